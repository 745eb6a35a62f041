package adapter

import (
	"encoding/json"
	"fmt"

	"github.com/hupe1980/speakmesh/internal/util"
)

// ParseJSON decodes a model reply into v. Markdown code fences around the
// payload are tolerated.
func ParseJSON(reply string, v any) error {
	body := util.StripCodeFence(reply)
	if err := json.Unmarshal([]byte(body), v); err != nil {
		return fmt.Errorf("decode model reply: %w", err)
	}
	return nil
}
