package service

import (
	"fmt"
	"strings"

	"github.com/garyjia/trip-approval/internal/domain/entity"
	"github.com/shopspring/decimal"
)

// Currency is appended to every amount in notification text
const Currency = "UAH"

// ExpenseLine is one item listed in an expense decision message
type ExpenseLine struct {
	Name   string
	Amount decimal.Decimal
}

// formatDateShort renders YYYY-MM-DD as DD.MM.YYYY and leaves anything else as is
func formatDateShort(v string) string {
	v = strings.TrimSpace(v)
	parts := strings.Split(v, "-")
	if len(parts) == 3 && len(parts[0]) == 4 && len(parts[1]) == 2 && len(parts[2]) == 2 {
		return parts[2] + "." + parts[1] + "." + parts[0]
	}
	return v
}

func formatAmount(d decimal.Decimal) string {
	return d.StringFixedBank(2) + " " + Currency
}

// BuildDecisionMessage renders the requester notification for a decided request
func BuildDecisionMessage(req *entity.TripRequest, status, summary, adminComment string) string {
	icon := "✅"
	if status == entity.RequestStatusRejected {
		icon = "❌"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s Request \"%s\" has been reviewed.", icon, req.Purpose)
	fmt.Fprintf(&b, "\nStatus: %s", entity.StatusLabel(status))
	fmt.Fprintf(&b, "\nPurpose: %s", req.Purpose)
	fmt.Fprintf(&b, "\nDates: %s - %s", formatDateShort(req.DateStart), formatDateShort(req.DateEnd))
	fmt.Fprintf(&b, "\nTotal: %s", formatAmount(req.TotalAmount()))

	if lines := summaryLines(summary); len(lines) > 0 {
		b.WriteString("\nChanges:\n")
		b.WriteString(strings.Join(lines, "\n"))
	}
	if adminComment = strings.TrimSpace(adminComment); adminComment != "" {
		fmt.Fprintf(&b, "\nComment: %s", adminComment)
	}
	return b.String()
}

// BuildClarificationRequestMessage is sent to the requester when an admin asks a question
func BuildClarificationRequestMessage(purpose, question string) string {
	return fmt.Sprintf("📝 Clarification needed for request \"%s\":\n%s", purpose, question)
}

// BuildClarificationAnswerMessage is sent to the admin who asked
func BuildClarificationAnswerMessage(purpose, userName, answer string) string {
	return fmt.Sprintf("✅ Clarification received for request \"%s\" from %s:\n%s", purpose, userName, answer)
}

// BuildExpensesSubmittedMessage is broadcast to company admins
func BuildExpensesSubmittedMessage(purpose, userName string) string {
	return fmt.Sprintf("🧾 New expenses for request \"%s\" from %s. Approval required.", purpose, userName)
}

// BuildExpenseDecisionMessage lists the decided expenses of one request
func BuildExpenseDecisionMessage(purpose string, decision Decision, items []ExpenseLine) string {
	icon, title := "✅", "Expenses approved"
	if decision == DecisionReject {
		icon, title = "❌", "Expenses rejected"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s for request \"%s\"", icon, title, purpose)
	for _, it := range items {
		fmt.Fprintf(&b, "\n• %s — %s", it.Name, formatAmount(it.Amount))
	}
	return b.String()
}

func summaryLines(summary string) []string {
	var out []string
	for _, s := range strings.Split(summary, ";") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
