package server

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/loykin/viewport/internal/layout"
	"github.com/loykin/viewport/internal/marker"
)

func sanitizeBase(bp string) string {
	bp = strings.TrimSpace(bp)
	if bp == "" || bp == "/" {
		return ""
	}
	if !strings.HasPrefix(bp, "/") {
		bp = "/" + bp
	}
	bp = strings.TrimRight(bp, "/")
	return bp
}

// parseTiles reads every tile query value ("r,c" or tile_r_c). Repeated
// parameters and comma-free separators are both accepted:
// ?tile=0,1&tile=tile_1_1
func parseTiles(values []string) ([]layout.Key, error) {
	keys := make([]layout.Key, 0, len(values))
	for _, v := range values {
		for _, part := range strings.Fields(strings.ReplaceAll(v, ";", " ")) {
			k, err := marker.ParseKey(part)
			if err != nil {
				return nil, err
			}
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func writeJSON(c *gin.Context, code int, v any) {
	c.Header("Content-Type", "application/json")
	c.Status(code)
	_ = json.NewEncoder(c.Writer).Encode(v)
}

func tileNotFound(k layout.Key) errorResp {
	return errorResp{Error: fmt.Sprintf("tile %s is not in the layout", k)}
}
