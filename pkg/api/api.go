// Package api defines the wire shapes the storage-engine plugin speaks: the
// nested request records of /ask_videx and the uniform response envelope.
package api

import (
	"sort"
	"strconv"

	"github.com/cespare/xxhash/v2"
	jsoniter "github.com/json-iterator/go"
)

const (
	HeaderContentType = "Content-Type"
	HeaderAcceptJSON  = "application/json"
)

// Item types and property names used in requests.
const (
	ItemTypeRequest = "videx_request"
	ItemTypeRoot    = "videx_root"
	ItemTypeMinKey  = "min_key"
	ItemTypeMaxKey  = "max_key"
	ItemTypeKey     = "key"
	ItemTypeField   = "field"

	PropDBName       = "dbname"
	PropTableName    = "table_name"
	PropFunction     = "function"
	PropVidexOptions = "videx_options"
)

// Item is one record of the nested request document.
type Item struct {
	ItemType   string            `json:"item_type"`
	Properties map[string]string `json:"properties"`
	Data       []Item            `json:"data"`
}

// Prop returns a property value, empty when absent.
func (i *Item) Prop(name string) string {
	return i.Properties[name]
}

// Child returns the first child with the given item type.
func (i *Item) Child(itemType string) *Item {
	for j := range i.Data {
		if i.Data[j].ItemType == itemType {
			return &i.Data[j]
		}
	}
	return nil
}

// Options are the per-request settings carried as a JSON string inside
// properties.videx_options.
type Options struct {
	TaskID string `json:"task_id"`
	UseGT  bool   `json:"use_gt"`
}

// ParseOptions decodes properties.videx_options; a missing or empty property
// yields zero options.
func (i *Item) ParseOptions() (Options, error) {
	var opts Options
	raw := i.Prop(PropVidexOptions)
	if raw == "" {
		return opts, nil
	}
	err := jsoniter.UnmarshalFromString(raw, &opts)
	return opts, err
}

// Response is the uniform envelope of /ask_videx. Numeric results are
// serialized as decimal strings, the caller parses them.
type Response struct {
	Code    int               `json:"code"`
	Message string            `json:"message"`
	Data    map[string]string `json:"data"`
}

// OK wraps result data in a success envelope.
func OK(data map[string]string) *Response {
	return &Response{Code: 200, Message: "OK", Data: data}
}

// NotSupported is the envelope for functions the dispatcher has no handler
// for. The code stays 200, a broken statistic must not crash the optimizer.
func NotSupported(message string) *Response {
	return &Response{Code: 200, Message: message, Data: map[string]string{}}
}

// Fingerprint hashes a request into the key used by the recorded
// request/response ground truth. The hash covers the canonical form of the
// document (sorted property keys) minus videx_options, which differs
// between record and replay runs.
func Fingerprint(i *Item) uint64 {
	d := xxhash.New()
	fingerprintItem(d, i, true)
	return d.Sum64()
}

// FingerprintKey renders the fingerprint the way it is keyed in metadata
// files.
func FingerprintKey(i *Item) string {
	return strconv.FormatUint(Fingerprint(i), 16)
}

func fingerprintItem(d *xxhash.Digest, i *Item, root bool) {
	_, _ = d.WriteString(i.ItemType)
	keys := make([]string, 0, len(i.Properties))
	for k := range i.Properties {
		if root && k == PropVidexOptions {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		_, _ = d.WriteString("|" + k + "=" + i.Properties[k])
	}
	for j := range i.Data {
		_, _ = d.WriteString("[")
		fingerprintItem(d, &i.Data[j], false)
		_, _ = d.WriteString("]")
	}
}
