package banking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/antoniostano/nessievoice/internal/reliability"
)

// ErrAccountNotFound is returned when the ledger has no such account.
var ErrAccountNotFound = errors.New("account not found")

// Transaction is one ledger entry. Purchases are debits and carry a negative amount.
type Transaction struct {
	ID          string  `json:"id"`
	Date        string  `json:"date"`
	Description string  `json:"description"`
	Amount      float64 `json:"amount"`
	Type        string  `json:"type"`
}

type Balance struct {
	AccountID string  `json:"account_id"`
	Nickname  string  `json:"nickname"`
	Amount    float64 `json:"amount"`
	Currency  string  `json:"currency"`
}

// Ledger is the read-only banking surface the call flow needs.
type Ledger interface {
	RecentTransactions(ctx context.Context, accountID string, count int) ([]Transaction, error)
	AccountBalance(ctx context.Context, accountID string) (Balance, error)
}

// Client talks to the Nessie banking API.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
	policy  reliability.Policy
}

func NewClient(baseURL, apiKey string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 8 * time.Second}
	}
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:  apiKey,
		client:  httpClient,
		policy: reliability.Policy{
			Attempts: 3,
			Base:     150 * time.Millisecond,
			Cap:      time.Second,
			Retry: func(err error) bool {
				return !errors.Is(err, ErrAccountNotFound) && reliability.Retryable(err)
			},
		},
	}
}

type nessiePurchase struct {
	ID           string  `json:"_id"`
	PurchaseDate string  `json:"purchase_date"`
	Description  string  `json:"description"`
	MerchantID   string  `json:"merchant_id"`
	Amount       float64 `json:"amount"`
}

type nessieAccount struct {
	ID       string  `json:"_id"`
	Nickname string  `json:"nickname"`
	Balance  float64 `json:"balance"`
}

// RecentTransactions returns up to count purchases on the account, newest first.
func (c *Client) RecentTransactions(ctx context.Context, accountID string, count int) ([]Transaction, error) {
	if count <= 0 {
		count = 10
	}
	var purchases []nessiePurchase
	if err := c.get(ctx, "/accounts/"+url.PathEscape(accountID)+"/purchases", &purchases); err != nil {
		return nil, fmt.Errorf("list purchases: %w", err)
	}

	sort.SliceStable(purchases, func(i, j int) bool {
		return purchases[i].PurchaseDate > purchases[j].PurchaseDate
	})
	if len(purchases) > count {
		purchases = purchases[:count]
	}

	out := make([]Transaction, 0, len(purchases))
	for _, p := range purchases {
		desc := strings.TrimSpace(p.Description)
		if desc == "" {
			desc = "Merchant " + p.MerchantID
		}
		out = append(out, Transaction{
			ID:          p.ID,
			Date:        p.PurchaseDate,
			Description: desc,
			Amount:      -p.Amount,
			Type:        "debit",
		})
	}
	return out, nil
}

func (c *Client) AccountBalance(ctx context.Context, accountID string) (Balance, error) {
	var acct nessieAccount
	if err := c.get(ctx, "/accounts/"+url.PathEscape(accountID), &acct); err != nil {
		return Balance{}, fmt.Errorf("get account: %w", err)
	}
	nickname := strings.TrimSpace(acct.Nickname)
	if nickname == "" {
		nickname = "Account"
	}
	return Balance{AccountID: accountID, Nickname: nickname, Amount: acct.Balance, Currency: "USD"}, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	endpoint := c.baseURL + path + "?key=" + url.QueryEscape(c.apiKey)
	return reliability.Do(ctx, c.policy, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/json")
		resp, err := c.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
		if err != nil {
			return err
		}
		if resp.StatusCode == http.StatusNotFound {
			return ErrAccountNotFound
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return &reliability.StatusError{Service: "nessie", Code: resp.StatusCode, Body: nessieMessage(body)}
		}
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("decode nessie response: %w", err)
		}
		return nil
	})
}

func nessieMessage(body []byte) string {
	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &obj); err == nil && obj.Message != "" {
		return obj.Message
	}
	return strings.TrimSpace(string(body))
}

// Static is a ledger with no data, used when no banking API key is configured.
type Static struct{}

func (Static) RecentTransactions(context.Context, string, int) ([]Transaction, error) {
	return nil, nil
}

func (Static) AccountBalance(context.Context, string) (Balance, error) {
	return Balance{}, ErrAccountNotFound
}
