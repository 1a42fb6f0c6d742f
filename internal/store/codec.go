package store

import (
	"errors"
	"strings"

	"github.com/goccy/go-json"
	"github.com/rBhagat4196/music-party/internal/domain"
)

// Documents live in the store as JSON-like trees so that field paths can
// address nested entries the way subscribers and updaters expect. The room
// type only exists at the edges.

func encodeRoom(room *domain.Room) (map[string]any, error) {
	raw, err := json.Marshal(room)
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func decodeRoom(doc map[string]any) (*domain.Room, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var room domain.Room
	if err := json.Unmarshal(raw, &room); err != nil {
		return nil, err
	}
	return &room, nil
}

func toTree(value any) (any, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	var tree any
	if err := json.Unmarshal(raw, &tree); err != nil {
		return nil, err
	}
	return tree, nil
}

// applyFields mutates doc in place according to dotted field paths. Missing
// intermediate maps are created on set and ignored on delete. That means a
// set addressed through an entry that no longer exists (say a mic write for
// a participant who already left) never errors: it materializes a sparse
// entry holding only the written field, which the next full write or delete
// reconciles.
func applyFields(doc map[string]any, fields map[string]any) error {
	for path, value := range fields {
		if err := applyField(doc, strings.Split(path, "."), value); err != nil {
			return err
		}
	}
	return nil
}

func applyField(node map[string]any, parts []string, value any) error {
	if len(parts) == 0 {
		return errors.New("empty field path")
	}

	last := parts[len(parts)-1]
	for _, part := range parts[:len(parts)-1] {
		child, ok := node[part].(map[string]any)
		if !ok {
			if _, isDelete := value.(deleteField); isDelete {
				return nil
			}
			child = make(map[string]any)
			node[part] = child
		}
		node = child
	}

	switch v := value.(type) {
	case deleteField:
		delete(node, last)
	case arrayUnion:
		elem, err := toTree(v.value)
		if err != nil {
			return err
		}
		arr, _ := node[last].([]any)
		node[last] = append(arr, elem)
	default:
		tree, err := toTree(value)
		if err != nil {
			return err
		}
		node[last] = tree
	}

	return nil
}
