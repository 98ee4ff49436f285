package retrieval

import "github.com/poiesic/tabvec/vectorstore"

// SearchMonitor provides hooks to observe a search.
type SearchMonitor interface {
	Start(req Request)
	AfterResolve(kind vectorstore.Kind, model string)
	AfterEmbedding(dimension int)
	Finish(resp *Response)
}

type noopMonitor struct{}

var _ SearchMonitor = (*noopMonitor)(nil)

func (n *noopMonitor) Start(_ Request)                           {}
func (n *noopMonitor) AfterResolve(_ vectorstore.Kind, _ string) {}
func (n *noopMonitor) AfterEmbedding(_ int)                      {}
func (n *noopMonitor) Finish(_ *Response)                        {}
