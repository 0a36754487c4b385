package activity

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"sort"
	"strings"

	"github.com/flowmesh/flowmesh/internal/flow"
)

// TransformHandler implements the `transform` node type.
//
// config fields:
//
//	transform_type: "json2csv" | "xml2json" | "json2xml" (required)
//	data:           input document (config literal or the resolved input's
//	                data key)
//
// Output is always {result: string}. CSV headers are sorted so output is
// deterministic; repeated XML element names are grouped into arrays.
type TransformHandler struct{}

func (h *TransformHandler) Name() string { return "transform" }

func (h *TransformHandler) Execute(input, config map[string]interface{}, run *flow.ExecutionContext) (map[string]interface{}, error) {
	kind, ok := config["transform_type"].(string)
	if !ok || kind == "" {
		return nil, fmt.Errorf("transform activity: missing required config field 'transform_type'")
	}

	data := config["data"]
	if d, ok := input["data"]; ok {
		data = d
	}

	switch kind {
	case "json2csv":
		return jsonToCSV(data)
	case "xml2json":
		return xmlToJSON(data)
	case "json2xml":
		return jsonToXML(data)
	default:
		return nil, fmt.Errorf("transform activity: unknown transform_type %q", kind)
	}
}

func jsonToCSV(data interface{}) (map[string]interface{}, error) {
	rows, ok := data.([]interface{})
	if !ok {
		return nil, fmt.Errorf("transform json2csv: data must be an array of objects")
	}
	if len(rows) == 0 {
		return map[string]interface{}{"result": ""}, nil
	}

	first, ok := rows[0].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("transform json2csv: each row must be an object")
	}
	headers := make([]string, 0, len(first))
	for key := range first {
		headers = append(headers, key)
	}
	sort.Strings(headers)

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(headers); err != nil {
		return nil, fmt.Errorf("transform json2csv: %w", err)
	}
	for _, raw := range rows {
		row, ok := raw.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("transform json2csv: each row must be an object")
		}
		record := make([]string, len(headers))
		for i, header := range headers {
			if v := row[header]; v != nil {
				record[i] = fmt.Sprintf("%v", v)
			}
		}
		if err := w.Write(record); err != nil {
			return nil, fmt.Errorf("transform json2csv: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("transform json2csv: %w", err)
	}
	return map[string]interface{}{"result": buf.String()}, nil
}

func xmlToJSON(data interface{}) (map[string]interface{}, error) {
	text, ok := data.(string)
	if !ok {
		return nil, fmt.Errorf("transform xml2json: data must be an XML string")
	}
	tree, err := decodeXMLTree(text)
	if err != nil {
		return nil, fmt.Errorf("transform xml2json: %w", err)
	}
	out, err := json.Marshal(tree)
	if err != nil {
		return nil, fmt.Errorf("transform xml2json: %w", err)
	}
	return map[string]interface{}{"result": string(out)}, nil
}

// decodeXMLTree walks the token stream into nested maps. Attributes are
// prefixed with "@", character data lands under "#text", and repeated sibling
// element names collapse into an array.
func decodeXMLTree(text string) (map[string]interface{}, error) {
	decoder := xml.NewDecoder(strings.NewReader(text))

	var root map[string]interface{}
	var nodes []map[string]interface{}
	var names []string

	for {
		token, err := decoder.Token()
		if err != nil {
			break
		}
		switch t := token.(type) {
		case xml.StartElement:
			node := map[string]interface{}{}
			for _, attr := range t.Attr {
				node["@"+attr.Name.Local] = attr.Value
			}
			nodes = append(nodes, node)
			names = append(names, t.Name.Local)

		case xml.EndElement:
			if len(nodes) == 0 {
				continue
			}
			node := nodes[len(nodes)-1]
			name := names[len(names)-1]
			nodes = nodes[:len(nodes)-1]
			names = names[:len(names)-1]

			if len(nodes) == 0 {
				root = map[string]interface{}{name: node}
				continue
			}
			parent := nodes[len(nodes)-1]
			switch existing := parent[name].(type) {
			case nil:
				parent[name] = node
			case []interface{}:
				parent[name] = append(existing, node)
			default:
				parent[name] = []interface{}{existing, node}
			}

		case xml.CharData:
			if text := strings.TrimSpace(string(t)); text != "" && len(nodes) > 0 {
				nodes[len(nodes)-1]["#text"] = text
			}
		}
	}

	if root == nil {
		return map[string]interface{}{}, nil
	}
	return root, nil
}

func jsonToXML(data interface{}) (map[string]interface{}, error) {
	text, ok := data.(string)
	if !ok {
		return nil, fmt.Errorf("transform json2xml: data must be a JSON string")
	}
	var parsed interface{}
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		return nil, fmt.Errorf("transform json2xml: invalid JSON: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString(`<?xml version="1.0" encoding="UTF-8"?>`)
	if err := encodeXMLValue(&buf, "root", parsed); err != nil {
		return nil, fmt.Errorf("transform json2xml: %w", err)
	}
	return map[string]interface{}{"result": buf.String()}, nil
}

// encodeXMLValue renders v under tag. Map keys are sorted for deterministic
// output; array members are wrapped in <item>.
func encodeXMLValue(buf *bytes.Buffer, tag string, v interface{}) error {
	buf.WriteString("<" + tag + ">")
	switch value := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(value))
		for key := range value {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			if err := encodeXMLValue(buf, key, value[key]); err != nil {
				return err
			}
		}
	case []interface{}:
		for _, member := range value {
			if err := encodeXMLValue(buf, "item", member); err != nil {
				return err
			}
		}
	case nil:
		// empty element
	default:
		if err := xml.EscapeText(buf, []byte(fmt.Sprintf("%v", value))); err != nil {
			return err
		}
	}
	buf.WriteString("</" + tag + ">")
	return nil
}
