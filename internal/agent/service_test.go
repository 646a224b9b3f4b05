package agent

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/quickmart-labs/voicecart-core/internal/catalog"
	"github.com/quickmart-labs/voicecart-core/internal/config"
	"github.com/quickmart-labs/voicecart-core/internal/order"
	"github.com/quickmart-labs/voicecart-core/internal/protocol"
)

type stubWriter struct {
	orders []order.Order
	err    error
}

func (w *stubWriter) Write(_ context.Context, o order.Order) error {
	if w.err != nil {
		return w.err
	}
	w.orders = append(w.orders, o)
	return nil
}

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testCatalog() *catalog.Index {
	return catalog.New(catalog.Document{
		StoreName: "QuickMart Test",
		Items: []catalog.Item{
			{ID: "bread-001", Name: "Whole Wheat Bread", Brand: "Harvest", Unit: "loaf", Price: 40},
			{ID: "milk-001", Name: "Milk", Brand: "DairyPure", Unit: "litre", Price: 60},
			{ID: "eggs-001", Name: "Eggs", Brand: "FarmFresh", Unit: "dozen", Price: 90},
		},
		Recipes: map[string][]string{
			"french toast": {"bread-001", "milk-001", "eggs-001"},
		},
	})
}

func newTestService(t *testing.T, writer *stubWriter) *Service {
	t.Helper()
	cfg := config.Default().Agent
	s := NewService(context.Background(), cfg, nil, testCatalog(), writer, nil, newLogger())
	t.Cleanup(s.Close)
	return s
}

func invoke(tool string, args any) protocol.ToolInvocation {
	inv := protocol.ToolInvocation{
		SessionID:    "session-1",
		InvocationID: "inv-1",
		Tool:         tool,
		Timestamp:    time.Now().UTC(),
	}
	if args != nil {
		raw, _ := json.Marshal(args)
		inv.Args = raw
	}
	return inv
}

func (s *Service) run(t *testing.T, inv protocol.ToolInvocation) protocol.ToolResult {
	t.Helper()
	ls := s.sessionFor(inv.SessionID)
	return s.execute(context.Background(), ls.sess, inv)
}

func TestExecuteDispatchesCartTools(t *testing.T) {
	writer := &stubWriter{}
	s := newTestService(t, writer)

	res := s.run(t, invoke(ToolAddToCart, map[string]any{"item_name": "bread", "quantity": 2}))
	if res.Status != "ok" || !strings.Contains(res.Text, "Whole Wheat Bread") {
		t.Fatalf("unexpected add result: %+v", res)
	}

	res = s.run(t, invoke(ToolUpdateQuantity, map[string]any{"item_name": "bread", "new_quantity": 5}))
	if res.Status != "ok" || !strings.Contains(res.Text, "5") {
		t.Fatalf("unexpected update result: %+v", res)
	}

	res = s.run(t, invoke(ToolCalculateTotal, nil))
	if res.Status != "ok" || !strings.Contains(res.Text, "₹200") {
		t.Fatalf("unexpected total result: %+v", res)
	}

	res = s.run(t, invoke(ToolPlaceOrder, map[string]any{"customer_name": "Priya"}))
	if res.Status != "ok" || !strings.Contains(res.Text, "Order placed successfully") {
		t.Fatalf("unexpected order result: %+v", res)
	}
	if len(writer.orders) != 1 || writer.orders[0].CustomerName != "Priya" {
		t.Fatalf("order not persisted as expected: %+v", writer.orders)
	}
}

func TestExecuteRecipeTool(t *testing.T) {
	s := newTestService(t, &stubWriter{})

	res := s.run(t, invoke(ToolAddRecipeItems, map[string]any{"recipe_name": "French Toast"}))
	if res.Status != "ok" {
		t.Fatalf("unexpected recipe result: %+v", res)
	}
	for _, want := range []string{"Whole Wheat Bread", "Milk", "Eggs"} {
		if !strings.Contains(res.Text, want) {
			t.Fatalf("recipe result missing %q: %s", want, res.Text)
		}
	}
}

func TestExecuteUnknownToolAndBadArgs(t *testing.T) {
	s := newTestService(t, &stubWriter{})

	res := s.run(t, invoke("teleport_groceries", nil))
	if res.Status != statusUnknown {
		t.Fatalf("expected unknown tool status, got %+v", res)
	}

	inv := invoke(ToolAddToCart, nil)
	inv.Args = json.RawMessage(`{"item_name": 42`)
	res = s.run(t, inv)
	if res.Status != statusError {
		t.Fatalf("expected error status for malformed args, got %+v", res)
	}

	res = s.run(t, invoke(ToolUpdateQuantity, map[string]any{"item_name": "bread"}))
	if res.Status != statusError {
		t.Fatalf("expected error status for missing new_quantity, got %+v", res)
	}
}

func TestExecuteUpdateQuantityZeroRemoves(t *testing.T) {
	s := newTestService(t, &stubWriter{})

	s.run(t, invoke(ToolAddToCart, map[string]any{"item_name": "milk"}))
	res := s.run(t, invoke(ToolUpdateQuantity, map[string]any{"item_name": "milk", "new_quantity": 0}))
	if res.Status != "ok" || !strings.Contains(res.Text, "Removed") {
		t.Fatalf("zero quantity should remove the line: %+v", res)
	}

	res = s.run(t, invoke(ToolShowCart, nil))
	if res.Status != "invalid_state" {
		t.Fatalf("cart should be empty after removal: %+v", res)
	}
}

func TestExecuteOrderFailurePreservesCart(t *testing.T) {
	writer := &stubWriter{err: context.DeadlineExceeded}
	s := newTestService(t, writer)

	s.run(t, invoke(ToolAddToCart, map[string]any{"item_name": "eggs"}))
	res := s.run(t, invoke(ToolPlaceOrder, nil))
	if res.Status != statusError {
		t.Fatalf("expected error status, got %+v", res)
	}

	res = s.run(t, invoke(ToolShowCart, nil))
	if res.Status != "ok" || !strings.Contains(res.Text, "Eggs") {
		t.Fatalf("cart should survive a failed order: %+v", res)
	}
}

func TestSessionsAreIsolated(t *testing.T) {
	s := newTestService(t, &stubWriter{})

	invA := invoke(ToolAddToCart, map[string]any{"item_name": "bread"})
	invA.SessionID = "session-a"
	s.run(t, invA)

	invB := invoke(ToolShowCart, nil)
	invB.SessionID = "session-b"
	res := s.run(t, invB)
	if res.Status != "invalid_state" {
		t.Fatalf("sessions must not share carts: %+v", res)
	}
	if s.SessionCount() != 2 {
		t.Fatalf("expected 2 live sessions, got %d", s.SessionCount())
	}
}

func TestEndSessionDiscardsState(t *testing.T) {
	s := newTestService(t, &stubWriter{})

	s.run(t, invoke(ToolAddToCart, map[string]any{"item_name": "bread"}))
	s.endSession("session-1", "hangup")
	if s.SessionCount() != 0 {
		t.Fatalf("expected session removed, got %d", s.SessionCount())
	}

	res := s.run(t, invoke(ToolShowCart, nil))
	if res.Status != "invalid_state" {
		t.Fatalf("a re-created session must start with an empty cart: %+v", res)
	}
}
