package renderer

import (
	"fmt"
	"strings"

	"github.com/thereceipt/cafeprint/pkg/receiptformat"
)

const (
	kitchenHeader    = "KITCHEN ORDER"
	kitchenDirective = "-- PREPARE NOW --"
	noFoodItems      = "(no food items)"
)

// BuildKitchenOrder composes the kitchen ticket for in. Only food items are
// printed; drinks and unclassified items never reach the kitchen.
func BuildKitchenOrder(in *receiptformat.BuildInput) []Line {
	if in == nil {
		in = &receiptformat.BuildInput{}
	}

	lines := []Line{
		Init{},
		Text{Text: kitchenHeader, Align: AlignCenter, Bold: true, DoubleSize: true},
		Divider{Char: '='},
		Text{Text: "Order #" + in.OrderNumber, Bold: true, DoubleHeight: true},
	}

	if ts := in.Timestamp(); !ts.IsZero() {
		lines = append(lines, TwoCol{Left: "Time", Right: ts.Format("15:04")})
	}
	if in.CashierName != "" {
		lines = append(lines, TwoCol{Left: "Staff", Right: in.CashierName})
	}
	lines = append(lines, Text{Text: strings.ToUpper(orderTypeLabel(in.OrderType)), Bold: true})
	if in.OrderType == receiptformat.DineIn && in.TableNumber != "" {
		lines = append(lines, TwoCol{Left: "Table", Right: in.TableNumber, Bold: true})
	}
	if in.CustomerName != "" {
		lines = append(lines, TwoCol{Left: "Customer", Right: in.CustomerName})
	}
	lines = append(lines, Divider{})

	food, _ := in.FoodItems()
	if len(food) == 0 {
		lines = append(lines, Text{Text: noFoodItems, Align: AlignCenter})
	}
	for _, item := range food {
		lines = append(lines, Text{
			Text:       fmt.Sprintf("%dx %s", item.Quantity, item.Name),
			Bold:       true,
			DoubleSize: true,
		})
	}
	lines = append(lines, Divider{})

	if in.Note != "" {
		lines = append(lines,
			Text{Text: "NOTE:", Bold: true},
			Text{Text: in.Note},
			Divider{},
		)
	}

	return append(lines,
		Text{Text: kitchenDirective, Align: AlignCenter, Bold: true},
		Feed{Lines: 2},
		Cut{},
	)
}

// EncodeKitchenOrder builds and encodes the kitchen ticket for paper
func EncodeKitchenOrder(in *receiptformat.BuildInput, paper string) []byte {
	return Encode(paper, BuildKitchenOrder(in))
}
