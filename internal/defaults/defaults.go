// Package defaults проставляет захваченному draft значения полей по
// умолчанию, заданные автоматизацией.
package defaults

import (
	"maps"
	"reflect"
	"strings"

	"github.com/shaiso/Stashflow/internal/domain"
)

// Имена полей draft, которые защищает очередь продаж.
const (
	FieldDisplayResolution = "displayResolution"
	FieldAddWatermark      = "addWatermark"
	FieldAllowFreeDownload = "allowFreeDownload"
	FieldStashOnly         = "stashOnly"
)

// HighestDisplayResolution — максимальное разрешение показа.
const HighestDisplayResolution = 8

// Apply возвращает копию fields с применёнными значениями по умолчанию.
//
// Порядок: пользовательские defaults, затем защита очереди продаж,
// затем stashOnly из автоматизации. Исходная map не меняется.
func Apply(fields map[string]any, a *domain.Automation, values []domain.DefaultValue) map[string]any {
	out := make(map[string]any, len(fields)+len(values)+4)
	maps.Copy(out, fields)

	for _, dv := range values {
		if dv.FieldName == "" {
			continue
		}
		if dv.ApplyIfEmpty && !IsEmpty(out[dv.FieldName]) {
			continue
		}
		out[dv.FieldName] = dv.Value
	}

	if a.HasSaleQueuePreset() {
		if IsEmpty(out[FieldDisplayResolution]) {
			out[FieldDisplayResolution] = HighestDisplayResolution
		}
		out[FieldAddWatermark] = true
		out[FieldAllowFreeDownload] = false
	}

	if v, ok := out[FieldStashOnly]; !ok || v == nil {
		out[FieldStashOnly] = a.StashOnlyByDefault
	}

	return out
}

// IsEmpty сообщает, считается ли значение поля пустым.
//
// Пустые: nil, строка из пробелов, пустой срез или map, false и 0.
// false и 0 пустые намеренно: так default перекрывает значение,
// которое проставила база.
func IsEmpty(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(x) == ""
	case bool:
		return !x
	case []any:
		return len(x) == 0
	case []string:
		return len(x) == 0
	case map[string]any:
		return len(x) == 0
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int() == 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint() == 0
	case reflect.Float32, reflect.Float64:
		return rv.Float() == 0
	case reflect.Slice, reflect.Array, reflect.Map:
		return rv.Len() == 0
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return true
		}
		return IsEmpty(rv.Elem().Interface())
	}
	return false
}
