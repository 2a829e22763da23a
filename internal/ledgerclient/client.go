// Package ledgerclient is the HTTP client for the two external collaborators:
// the ledger service (groups, margin accounts, vault balances, stake) and the
// trades service (historical fills per sub-order-book account).
package ledgerclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"MarginSync/internal/venue"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Client implements the registry's LedgerClient and PriceOracle interfaces
// and the history Fetcher, all against REST endpoints.
type Client struct {
	ledgerURL string
	tradesURL string
	http      *http.Client
	log       zerolog.Logger
}

// New creates a client. URLs are bases without trailing slash.
func New(ledgerURL, tradesURL string, timeout time.Duration, log zerolog.Logger) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		ledgerURL: ledgerURL,
		tradesURL: tradesURL,
		http:      &http.Client{Timeout: timeout},
		log:       log,
	}
}

func (c *Client) getJSON(ctx context.Context, url string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("GET %s: status %d: %s", url, resp.StatusCode, bytes.TrimSpace(body))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) postJSON(ctx context.Context, url string, in, out interface{}) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("POST %s: status %d: %s", url, resp.StatusCode, bytes.TrimSpace(body))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// FetchGroup loads an account group's full configuration.
func (c *Client) FetchGroup(ctx context.Context, addr venue.Address) (*venue.AccountGroup, error) {
	var group venue.AccountGroup
	url := fmt.Sprintf("%s/v1/groups/%s", c.ledgerURL, addr)
	if err := c.getJSON(ctx, url, &group); err != nil {
		return nil, err
	}
	group.FetchedAt = time.Now()
	return &group, nil
}

// ListAccounts returns every margin account the owner holds in the group.
func (c *Client) ListAccounts(ctx context.Context, group, owner venue.Address) ([]*venue.MarginAccount, error) {
	var accounts []*venue.MarginAccount
	url := fmt.Sprintf("%s/v1/groups/%s/accounts?owner=%s", c.ledgerURL, group, owner)
	if err := c.getJSON(ctx, url, &accounts); err != nil {
		return nil, err
	}
	now := time.Now()
	for _, a := range accounts {
		a.FetchedAt = now
	}
	return accounts, nil
}

// FetchAccount reloads one margin account.
func (c *Client) FetchAccount(ctx context.Context, addr venue.Address) (*venue.MarginAccount, error) {
	var acct venue.MarginAccount
	url := fmt.Sprintf("%s/v1/accounts/%s", c.ledgerURL, addr)
	if err := c.getJSON(ctx, url, &acct); err != nil {
		return nil, err
	}
	acct.FetchedAt = time.Now()
	return &acct, nil
}

// FetchPrices returns spot prices for every token in the group, keyed by
// symbol.
func (c *Client) FetchPrices(ctx context.Context, group venue.Address) (venue.PriceSet, error) {
	var raw map[string]string
	url := fmt.Sprintf("%s/v1/groups/%s/prices", c.ledgerURL, group)
	if err := c.getJSON(ctx, url, &raw); err != nil {
		return nil, err
	}
	prices := make(venue.PriceSet, len(raw))
	for sym, s := range raw {
		p, err := decimal.NewFromString(s)
		if err != nil {
			return nil, fmt.Errorf("parse price for %s: %w", sym, err)
		}
		prices[sym] = p
	}
	return prices, nil
}

// FetchTokenBalance reads a vault's token balance.
func (c *Client) FetchTokenBalance(ctx context.Context, vault venue.Address) (decimal.Decimal, error) {
	var body struct {
		Balance string `json:"balance"`
	}
	url := fmt.Sprintf("%s/v1/vaults/%s/balance", c.ledgerURL, vault)
	if err := c.getJSON(ctx, url, &body); err != nil {
		return decimal.Zero, err
	}
	bal, err := decimal.NewFromString(body.Balance)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse balance: %w", err)
	}
	return bal, nil
}

// FetchOwnerStake reads the owner's staked balance of the fee token.
func (c *Client) FetchOwnerStake(ctx context.Context, owner venue.Address) (decimal.Decimal, error) {
	var body struct {
		Staked string `json:"staked"`
	}
	url := fmt.Sprintf("%s/v1/owners/%s/stake", c.ledgerURL, owner)
	if err := c.getJSON(ctx, url, &body); err != nil {
		return decimal.Zero, err
	}
	staked, err := decimal.NewFromString(body.Staked)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse staked: %w", err)
	}
	return staked, nil
}

// CreateAccount asks the ledger to initialize a fresh margin account for the
// owner under the group.
func (c *Client) CreateAccount(ctx context.Context, group, owner venue.Address) (*venue.MarginAccount, error) {
	var acct venue.MarginAccount
	url := fmt.Sprintf("%s/v1/groups/%s/accounts", c.ledgerURL, group)
	in := map[string]string{"owner": string(owner)}
	if err := c.postJSON(ctx, url, in, &acct); err != nil {
		return nil, err
	}
	acct.FetchedAt = time.Now()
	return &acct, nil
}
