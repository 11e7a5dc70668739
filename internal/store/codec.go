package store

import (
	"encoding/json"

	"github.com/rotisserie/eris"

	"github.com/sells-group/tender-cli/internal/model"
)

// Both backends keep nested values as JSON documents.

func marshalAnchor(a *model.AnchorPosition) ([]byte, error) {
	if a == nil {
		return nil, nil
	}
	b, err := json.Marshal(a)
	return b, eris.Wrap(err, "store: marshal anchor")
}

func unmarshalAnchor(b []byte) (*model.AnchorPosition, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var a model.AnchorPosition
	if err := json.Unmarshal(b, &a); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal anchor")
	}
	return &a, nil
}

func marshalStrings(v []string) ([]byte, error) {
	if v == nil {
		v = []string{}
	}
	b, err := json.Marshal(v)
	return b, eris.Wrap(err, "store: marshal source keys")
}

func unmarshalStrings(b []byte) ([]string, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal source keys")
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

func marshalMappings(m []model.QuestionPositionMapping) ([]byte, error) {
	if m == nil {
		m = []model.QuestionPositionMapping{}
	}
	b, err := json.Marshal(m)
	return b, eris.Wrap(err, "store: marshal mappings")
}

func unmarshalMappings(b []byte) ([]model.QuestionPositionMapping, error) {
	var out []model.QuestionPositionMapping
	if len(b) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal mappings")
	}
	return out, nil
}

func listLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	return limit
}
