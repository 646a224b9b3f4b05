package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/quickmart-labs/voicecart-core/internal/protocol"
	"github.com/quickmart-labs/voicecart-core/internal/session"
)

// Tool names accepted on the invoke subject.
const (
	ToolSearchItem      = "search_item"
	ToolAddToCart       = "add_to_cart"
	ToolAddRecipeItems  = "add_recipe_items"
	ToolRemoveFromCart  = "remove_from_cart"
	ToolUpdateQuantity  = "update_quantity"
	ToolShowCart        = "show_cart"
	ToolCalculateTotal  = "calculate_cart_total"
	ToolPlaceOrder      = "place_order"
	ToolSetCustomerName = "set_customer_name"
)

const (
	statusError   = "error"
	statusUnknown = "unknown_tool"
)

// toolArgs is the union of every tool's arguments. NewQuantity is a pointer
// so an explicit zero is distinguishable from an absent field.
type toolArgs struct {
	ItemName     string `json:"item_name"`
	Quantity     int    `json:"quantity"`
	RecipeName   string `json:"recipe_name"`
	NewQuantity  *int   `json:"new_quantity"`
	CustomerName string `json:"customer_name"`
	Name         string `json:"name"`
}

func (s *Service) execute(ctx context.Context, sess *session.Session, inv protocol.ToolInvocation) protocol.ToolResult {
	result := protocol.ToolResult{
		SessionID:    inv.SessionID,
		InvocationID: inv.InvocationID,
		Tool:         inv.Tool,
		TraceID:      inv.TraceID,
		Timestamp:    time.Now().UTC(),
	}

	var args toolArgs
	if len(inv.Args) > 0 {
		if err := json.Unmarshal(inv.Args, &args); err != nil {
			result.Status = statusError
			result.Text = "Sorry, I didn't understand that request."
			s.log.Warn("malformed tool args",
				slog.String("tool", inv.Tool),
				slog.String("session_id", inv.SessionID),
				slogError(err))
			return result
		}
	}

	var res session.Result
	switch inv.Tool {
	case ToolSearchItem:
		res = sess.Search(args.ItemName)
	case ToolAddToCart:
		res = sess.AddItem(args.ItemName, args.Quantity)
	case ToolAddRecipeItems:
		res = sess.AddRecipe(args.RecipeName)
	case ToolRemoveFromCart:
		res = sess.RemoveItem(args.ItemName)
	case ToolUpdateQuantity:
		if args.NewQuantity == nil {
			result.Status = statusError
			result.Text = "Sorry, I need a quantity to update to."
			return result
		}
		res = sess.UpdateQuantity(args.ItemName, *args.NewQuantity)
	case ToolShowCart:
		res = sess.ShowCart()
	case ToolCalculateTotal:
		if sess.Empty() {
			res = session.Result{
				Status: session.StatusInvalidState,
				Text:   "Your cart is empty. Total: ₹0",
			}
		} else {
			res = session.Result{
				Status: session.StatusOK,
				Text:   fmt.Sprintf("Your cart total is ₹%.0f.", sess.Total()),
			}
		}
	case ToolPlaceOrder:
		o, placed, err := sess.PlaceOrder(ctx, args.CustomerName)
		if err != nil {
			result.Status = statusError
			result.Text = "Sorry, there was an error placing your order. Please try again."
			s.log.Error("order placement failed",
				slog.String("session_id", inv.SessionID),
				slogError(err))
			return result
		}
		if o != nil && s.orderCounter != nil {
			s.orderCounter.Add(ctx, 1)
		}
		res = placed
	case ToolSetCustomerName:
		name := args.CustomerName
		if name == "" {
			name = args.Name
		}
		if name == "" {
			result.Status = statusError
			result.Text = "Sorry, I didn't catch the name."
			return result
		}
		res = sess.SetCustomerName(name)
	default:
		result.Status = statusUnknown
		result.Text = fmt.Sprintf("I don't know how to do '%s'.", inv.Tool)
		s.log.Warn("unknown tool invoked", slog.String("tool", inv.Tool))
		return result
	}

	result.Status = string(res.Status)
	result.Text = res.Text
	return result
}
