package agent

import (
	"fmt"
	"strings"
)

const systemInstruction = `You are Nessie, the phone banking assistant for Capital One. The caller has already been verified.
- Answer in at most four short sentences that sound natural when read aloud. No lists, markdown or emoji.
- Use the recent transactions to describe spending habits, group expenses into categories, and point out anything unusual.
- Offer practical advice on managing money when it fits the question.
- Never invent balances or transactions that are not in the account context.
- You cannot move money. If asked for a transfer, explain that transfers are not available by phone.
- If the caller says they have nothing else to ask or wants to end the call, say a brief goodbye and append ` + TerminationMarker + ` at the very end.`

// BuildPrompt renders the per-turn user message: the caller's words plus the
// account context the model may draw on.
func BuildPrompt(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Caller: %s (customer %s, account %s)\n", req.Caller.Name, req.Caller.CustomerID, req.Caller.AccountID)

	if req.Balance != nil {
		fmt.Fprintf(&b, "Balance on %s: %.2f %s\n", req.Balance.Nickname, req.Balance.Amount, req.Balance.Currency)
	}

	switch {
	case req.LedgerUnavailable:
		b.WriteString("Recent transactions: unavailable right now. Say so if the caller asks about them.\n")
	case len(req.Transactions) == 0:
		b.WriteString("Recent transactions: none on record.\n")
	default:
		b.WriteString("Recent transactions (newest first):\n")
		for _, tx := range req.Transactions {
			fmt.Fprintf(&b, "- %s %s %.2f (%s)\n", tx.Date, tx.Description, tx.Amount, tx.Type)
		}
	}

	fmt.Fprintf(&b, "Caller said: %s", strings.TrimSpace(req.UserText))
	return b.String()
}
