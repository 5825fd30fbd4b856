// Package shim reshapes caller-friendly payloads into the platform's bulk update bodies.
package shim

import (
	"github.com/tidwall/gjson"

	"ownerrez-proxy-go/internal/model"
)

// SpotRateItems returns the raw "items" array of a {"items":[...]} wrapper, byte
// for byte as the caller sent it. A missing, non-array or empty items field is
// model.ErrInvalidBody.
func SpotRateItems(body []byte) ([]byte, error) {
	if !gjson.ValidBytes(body) {
		return nil, model.ErrInvalidBody
	}
	doc := gjson.ParseBytes(body)
	if !doc.IsObject() {
		return nil, model.ErrInvalidBody
	}

	items := doc.Get("items")
	if !items.IsArray() || len(items.Array()) == 0 {
		return nil, model.ErrInvalidBody
	}
	return []byte(items.Raw), nil
}
