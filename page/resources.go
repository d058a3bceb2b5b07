package page

import (
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// resourceAliases maps the plural names accepted in configuration to CDP
// resource types. Any other name is matched against the CDP type directly
// ("script", "xhr", "fetch").
var resourceAliases = map[string]proto.NetworkResourceType{
	"images":      proto.NetworkResourceTypeImage,
	"fonts":       proto.NetworkResourceTypeFont,
	"media":       proto.NetworkResourceTypeMedia,
	"stylesheets": proto.NetworkResourceTypeStylesheet,
}

// blockList is a set of lower-cased CDP resource types.
type blockList map[string]bool

func newBlockList(names []string) blockList {
	bl := make(blockList, len(names))
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		if n == "" {
			continue
		}
		if t, ok := resourceAliases[n]; ok {
			n = strings.ToLower(string(t))
		}
		bl[n] = true
	}
	return bl
}

func (bl blockList) blocks(t proto.NetworkResourceType) bool {
	return bl[strings.ToLower(string(t))]
}

// hijack fails every request for a blocked resource type on p. The router
// must be stopped before the page is closed.
func (bl blockList) hijack(p *rod.Page) *rod.HijackRouter {
	router := p.HijackRequests()
	router.MustAdd("*", func(h *rod.Hijack) {
		if bl.blocks(h.Request.Type()) {
			h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		h.ContinueRequest(&proto.FetchContinueRequest{})
	})
	go router.Run()
	return router
}
