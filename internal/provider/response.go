package provider

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/smmsync/internal/domain"
)

// StatusResult — разобранный ответ провайдера на запрос статуса.
type StatusResult struct {
	RawStatus  string
	StartCount *int64
	Remains    *int64
	Charge     *decimal.Decimal
	// TransactionID — идентификатор заказа, который провайдер вернул в ответе.
	TransactionID string
	// Raw — тело ответа как есть, для журнала.
	Raw string
}

// ParseResponse разбирает тело ответа по сопоставлению полей.
func ParseResponse(body []byte, remoteOrderID string, mapping ResponseMapping) (StatusResult, error) {
	result := StatusResult{Raw: string(body)}

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return result, domain.ErrEmptyResponse
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return result, fmt.Errorf("%w: %v", domain.ErrMalformedResponse, err)
	}
	top, ok := doc.(map[string]any)
	if !ok {
		return result, fmt.Errorf("%w: expected json object", domain.ErrMalformedResponse)
	}

	v := vars{"order_id": remoteOrderID}
	scope := top
	for _, path := range mapping.Root {
		if nested, ok := lookup(top, v.render(path)).(map[string]any); ok {
			scope = nested
			break
		}
	}

	if msg, found := firstString(v, mapping.Error, scope, top); found {
		return result, fmt.Errorf("%w: %s", domain.ErrProviderRejected, msg)
	}

	raw, found := firstString(v, mapping.Status, scope, top)
	if !found {
		return result, domain.ErrStatusMissing
	}
	result.RawStatus = raw

	if n, ok := firstInt(v, mapping.StartCount, scope); ok {
		result.StartCount = &n
	}
	if n, ok := firstInt(v, mapping.Remains, scope); ok {
		result.Remains = &n
	}
	if d, ok := firstDecimal(v, mapping.Charge, scope); ok {
		result.Charge = &d
	}
	if id, ok := firstString(v, mapping.TransactionID, scope); ok {
		result.TransactionID = id
		if id != strings.TrimSpace(remoteOrderID) {
			return result, fmt.Errorf("%w: asked %s, got %s", domain.ErrOrderMismatch, remoteOrderID, id)
		}
	}
	return result, nil
}

// lookup идёт по пути вида "data.order.status".
func lookup(doc map[string]any, path string) any {
	if path == "" {
		return nil
	}
	var cur any = doc
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur, ok = m[part]
		if !ok {
			return nil
		}
	}
	return cur
}

func firstString(v vars, paths []string, docs ...map[string]any) (string, bool) {
	for _, doc := range docs {
		for _, path := range paths {
			if s := scalarString(lookup(doc, v.render(path))); s != "" {
				return s, true
			}
		}
	}
	return "", false
}

// firstInt отбрасывает значения, не помещающиеся в int64.
func firstInt(v vars, paths []string, docs ...map[string]any) (int64, bool) {
	d, ok := firstDecimal(v, paths, docs...)
	if !ok {
		return 0, false
	}
	n := d.BigInt()
	if !n.IsInt64() {
		return 0, false
	}
	return n.Int64(), true
}

func firstDecimal(v vars, paths []string, docs ...map[string]any) (decimal.Decimal, bool) {
	for _, doc := range docs {
		for _, path := range paths {
			s := scalarString(lookup(doc, v.render(path)))
			if s == "" {
				continue
			}
			d, err := decimal.NewFromString(s)
			if err != nil {
				continue
			}
			return d, true
		}
	}
	return decimal.Zero, false
}

// scalarString приводит строку, число или bool к строке; объекты и массивы дают "".
func scalarString(val any) string {
	switch x := val.(type) {
	case string:
		return strings.TrimSpace(x)
	case json.Number:
		return x.String()
	case bool:
		if x {
			return "true"
		}
		return ""
	case []any:
		// ошибки иногда приходят списком строк
		parts := make([]string, 0, len(x))
		for _, item := range x {
			if s := scalarString(item); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, "; ")
	default:
		return ""
	}
}
