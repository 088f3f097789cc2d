package renderer

import (
	"fmt"
	"strings"

	"github.com/thereceipt/cafeprint/pkg/receiptformat"
)

const (
	defaultCurrency = "₱"
	defaultFooter   = "Thank you!"
	dateLayout      = "2006-01-02 15:04"

	// DiscountAnnotation is printed directly under a discounted item
	DiscountAnnotation = "  * discount applied"
	// ReprintMarker heads a receipt printed again
	ReprintMarker = "*** REPRINT ***"
)

// BuildReceipt composes the customer receipt for in
func BuildReceipt(in *receiptformat.BuildInput) []Line {
	if in == nil {
		in = &receiptformat.BuildInput{}
	}
	lines := []Line{Init{}}
	money := moneyFormatter(in.Business.Currency)

	// Header
	if logo, ok := DecodeLogo(in.Business.Logo); ok {
		lines = append(lines, Image{Img: logo})
	}
	if in.Business.Name != "" {
		lines = append(lines, Text{Text: in.Business.Name, Align: AlignCenter, Bold: true, DoubleSize: true})
	}
	if in.Business.Address != "" {
		lines = append(lines, Text{Text: in.Business.Address, Align: AlignCenter})
	}
	if in.Business.Phone != "" {
		lines = append(lines, Text{Text: "Tel: " + in.Business.Phone, Align: AlignCenter})
	}
	lines = append(lines, Divider{})

	if in.Reprint {
		lines = append(lines,
			Text{Text: ReprintMarker, Align: AlignCenter, Bold: true},
			Divider{},
		)
	}

	// Order metadata
	lines = append(lines, TwoCol{Left: "Order #", Right: in.OrderNumber, Bold: true})
	if ts := in.Timestamp(); !ts.IsZero() {
		lines = append(lines, TwoCol{Left: "Date", Right: ts.Format(dateLayout)})
	}
	if in.CashierName != "" {
		lines = append(lines, TwoCol{Left: "Cashier", Right: in.CashierName})
	}
	if in.CustomerName != "" {
		lines = append(lines, TwoCol{Left: "Customer", Right: in.CustomerName})
	}
	lines = append(lines, TwoCol{Left: "Type", Right: orderTypeLabel(in.OrderType)})
	if in.OrderType == receiptformat.DineIn && in.TableNumber != "" {
		lines = append(lines, TwoCol{Left: "Table", Right: in.TableNumber})
	}
	lines = append(lines, Divider{})

	// Items
	for _, item := range in.Items {
		lines = append(lines, TwoCol{
			Left:  fmt.Sprintf("%dx %s", item.Quantity, item.Name),
			Right: money(item.Amount()),
		})
		if item.HasDiscount {
			lines = append(lines, Text{Text: DiscountAnnotation})
		}
	}
	lines = append(lines, Divider{})

	// Totals
	lines = append(lines, TwoCol{Left: "Subtotal", Right: money(in.Subtotal)})
	if in.DiscountTotal > 0 {
		lines = append(lines, TwoCol{Left: "Discount", Right: "-" + money(in.DiscountTotal)})
	}
	lines = append(lines,
		Divider{},
		TwoCol{Left: "TOTAL", Right: money(in.Total), Bold: true},
	)
	lines = append(lines, paymentLines(in, money)...)

	// Compliance
	if in.SeniorID != "" || in.PWDID != "" {
		lines = append(lines, Divider{})
		if in.SeniorID != "" {
			lines = append(lines, TwoCol{Left: "Senior Citizen ID", Right: in.SeniorID})
		}
		if in.PWDID != "" {
			lines = append(lines, TwoCol{Left: "PWD ID", Right: in.PWDID})
		}
		lines = append(lines,
			Text{Text: "Name: ______________________"},
			Text{Text: "Signature: _________________"},
		)
	}

	// Footer
	footer := in.Business.FooterMessage
	if footer == "" {
		footer = defaultFooter
	}
	lines = append(lines,
		Divider{},
		Text{Text: footer, Align: AlignCenter},
	)
	if in.Business.ShowBarcode {
		lines = append(lines, Barcode{Value: in.OrderNumber})
	}
	if in.Business.FeedbackURL != "" {
		lines = append(lines,
			Text{Text: "Tell us how we did", Align: AlignCenter},
			QR{Value: in.Business.FeedbackURL},
		)
	}

	return append(lines, Feed{Lines: 2}, Cut{})
}

func paymentLines(in *receiptformat.BuildInput, money func(float64) string) []Line {
	p := in.Payment
	switch p.Method {
	case receiptformat.PaymentCash:
		return []Line{
			TwoCol{Left: "Cash", Right: money(p.AmountTendered)},
			TwoCol{Left: "Change", Right: money(p.Change)},
		}
	case receiptformat.PaymentGCash:
		return []Line{TwoCol{Left: "GCash", Right: money(in.Total)}}
	case receiptformat.PaymentCard:
		return []Line{TwoCol{Left: "Card", Right: money(in.Total)}}
	case receiptformat.PaymentSplit:
		var lines []Line
		if p.CashAmount > 0 {
			lines = append(lines, TwoCol{Left: "Cash", Right: money(p.CashAmount)})
		}
		if p.GCashAmount > 0 {
			lines = append(lines, TwoCol{Left: "GCash", Right: money(p.GCashAmount)})
		}
		if p.CardAmount > 0 {
			lines = append(lines, TwoCol{Left: "Card", Right: money(p.CardAmount)})
		}
		if p.Change > 0 {
			lines = append(lines, TwoCol{Left: "Change", Right: money(p.Change)})
		}
		return lines
	}
	return nil
}

func moneyFormatter(currency string) func(float64) string {
	if currency == "" {
		currency = defaultCurrency
	}
	return func(v float64) string {
		return fmt.Sprintf("%s%.2f", currency, v)
	}
}

func orderTypeLabel(t receiptformat.OrderType) string {
	switch t {
	case receiptformat.DineIn:
		return "Dine-in"
	case receiptformat.Takeaway:
		return "Takeaway"
	}
	return strings.ToUpper(string(t))
}

// EncodeReceipt builds and encodes the customer receipt for paper
func EncodeReceipt(in *receiptformat.BuildInput, paper string) []byte {
	return Encode(paper, BuildReceipt(in))
}
