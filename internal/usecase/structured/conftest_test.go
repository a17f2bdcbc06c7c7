package structured

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/kailas-cloud/recall/internal/domain"
)

type mockViewStore struct {
	views    []domain.StructuredView
	cols     []string
	rows     [][]string
	queryErr error
	gotQuery string
}

func (m *mockViewStore) Views() []domain.StructuredView { return m.views }

func (m *mockViewStore) View(name string) (domain.StructuredView, error) {
	for _, v := range m.views {
		if v.Name == name {
			return v, nil
		}
	}
	return domain.StructuredView{}, domain.ErrUnknownView
}

func (m *mockViewStore) Query(_ context.Context, query string) ([]string, [][]string, error) {
	m.gotQuery = query
	if m.queryErr != nil {
		return nil, nil, m.queryErr
	}
	return m.cols, m.rows, nil
}

type mockGenerator struct {
	response string
	err      error
	prompts  []string
}

func (m *mockGenerator) Generate(_ context.Context, prompt string) (string, error) {
	m.prompts = append(m.prompts, prompt)
	return m.response, m.err
}

func purchasesView() domain.StructuredView {
	return domain.StructuredView{
		Name: "purchases",
		Columns: []domain.Column{
			{Name: "item", Type: domain.ColumnText},
			{Name: "category", Type: domain.ColumnText},
			{Name: "price_usd", Type: domain.ColumnReal},
			{Name: "purchased_at", Type: domain.ColumnTimestamp},
		},
	}
}

func newTestEngine(t *testing.T, gen *mockGenerator, store *mockViewStore) *Engine {
	t.Helper()
	if store.views == nil {
		store.views = []domain.StructuredView{purchasesView()}
	}
	return New(store, gen, 0, zap.NewNop())
}
