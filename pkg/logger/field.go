package logger

import (
	"time"

	"github.com/rs/zerolog"
)

type fieldKind uint8

const (
	kindString fieldKind = iota
	kindInt
	kindFloat
	kindBool
	kindDuration
	kindError
	kindStrings
	kindAny
)

// Field is one typed key/value pair. Build it with the constructors below.
type Field struct {
	Key  string
	kind fieldKind
	str  string
	num  int64
	flt  float64
	obj  interface{}
}

func String(key, value string) Field { return Field{Key: key, kind: kindString, str: value} }

func Int(key string, value int) Field { return Field{Key: key, kind: kindInt, num: int64(value)} }

func Int64(key string, value int64) Field { return Field{Key: key, kind: kindInt, num: value} }

func Float64(key string, value float64) Field { return Field{Key: key, kind: kindFloat, flt: value} }

func Bool(key string, value bool) Field {
	f := Field{Key: key, kind: kindBool}
	if value {
		f.num = 1
	}
	return f
}

// Duration is rendered in milliseconds.
func Duration(key string, value time.Duration) Field {
	return Field{Key: key, kind: kindDuration, num: int64(value)}
}

// Error always uses the "error" key. A nil error logs nothing.
func Error(err error) Field { return Field{Key: zerolog.ErrorFieldName, kind: kindError, obj: err} }

func Strings(key string, value []string) Field { return Field{Key: key, kind: kindStrings, obj: value} }

func Any(key string, value interface{}) Field { return Field{Key: key, kind: kindAny, obj: value} }

// Value returns the plain Go value, as the collector stores it.
func (f Field) Value() interface{} {
	switch f.kind {
	case kindString:
		return f.str
	case kindInt:
		return f.num
	case kindFloat:
		return f.flt
	case kindBool:
		return f.num == 1
	case kindDuration:
		return float64(f.num) / float64(time.Millisecond)
	case kindError:
		if err, _ := f.obj.(error); err != nil {
			return err.Error()
		}
		return nil
	default:
		return f.obj
	}
}

func (f Field) addTo(e *zerolog.Event) {
	switch f.kind {
	case kindString:
		e.Str(f.Key, f.str)
	case kindInt:
		e.Int64(f.Key, f.num)
	case kindFloat:
		e.Float64(f.Key, f.flt)
	case kindBool:
		e.Bool(f.Key, f.num == 1)
	case kindDuration:
		e.Dur(f.Key, time.Duration(f.num))
	case kindError:
		if err, _ := f.obj.(error); err != nil {
			e.AnErr(f.Key, err)
		}
	case kindStrings:
		ss, _ := f.obj.([]string)
		e.Strs(f.Key, ss)
	default:
		e.Interface(f.Key, f.obj)
	}
}

func (f Field) addToContext(c zerolog.Context) zerolog.Context {
	switch f.kind {
	case kindString:
		return c.Str(f.Key, f.str)
	case kindInt:
		return c.Int64(f.Key, f.num)
	case kindBool:
		return c.Bool(f.Key, f.num == 1)
	default:
		return c.Interface(f.Key, f.Value())
	}
}
