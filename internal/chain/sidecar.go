package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/r3labs/sse/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"prizevault/internal/logger"
	"prizevault/internal/nonce"
)

// SidecarClient talks to a node's REST API for state and to its event
// sidecar's SSE stream for contract events.
type SidecarClient struct {
	nodeURL      string
	sidecarURL   string
	networkName  string
	contractHash string
	signerKey    string
	nonces       *nonce.Allocator
	http         *http.Client
}

func NewSidecarClient(nodeURL string, sidecarURL string, networkName string, contractHash string, signerKey string, nonces *nonce.Allocator) *SidecarClient {
	return &SidecarClient{
		nodeURL:      nodeURL,
		sidecarURL:   sidecarURL,
		networkName:  networkName,
		contractHash: contractHash,
		signerKey:    signerKey,
		nonces:       nonces,
		http:         &http.Client{Timeout: 30 * time.Second},
	}
}

type blockResponse struct {
	Block struct {
		Hash   string `json:"hash"`
		Header struct {
			Height int64 `json:"height"`
		} `json:"header"`
	} `json:"block"`
}

func (c *SidecarClient) CurrentHeight(ctx context.Context) (int64, error) {
	var response blockResponse
	if err := c.getJSON(ctx, c.nodeURL+"/block", &response); err != nil {
		return 0, err
	}
	return response.Block.Header.Height, nil
}

func (c *SidecarClient) BlockHash(ctx context.Context, height int64) (string, error) {
	var response blockResponse
	if err := c.getJSON(ctx, fmt.Sprintf("%s/block/%d", c.nodeURL, height), &response); err != nil {
		return "", err
	}
	return response.Block.Hash, nil
}

func (c *SidecarClient) QueryState(ctx context.Context, key string) (string, error) {
	var response struct {
		Value string `json:"value"`
	}
	url := fmt.Sprintf("%s/state/%s/%s", c.nodeURL, c.contractHash, key)
	if err := c.getJSON(ctx, url, &response); err != nil {
		return "", err
	}
	return response.Value, nil
}

type submitResponse struct {
	TxRef        string `json:"tx_ref"`
	OK           bool   `json:"ok"`
	ErrorMessage string `json:"error,omitempty"`
}

func (c *SidecarClient) SubmitDistribution(ctx context.Context, drawID string, transfers []Transfer) (*SubmitResult, error) {

	next, err := c.nonces.NextNonce(c.signerKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	type transferPayload struct {
		PublicKey string `json:"public_key"`
		Amount    string `json:"amount"`
	}
	payload := struct {
		ChainName  string            `json:"chain_name"`
		EntryPoint string            `json:"entry_point"`
		DrawID     string            `json:"draw_id"`
		Nonce      int64             `json:"nonce"`
		Transfers  []transferPayload `json:"transfers"`
	}{
		ChainName:  c.networkName,
		EntryPoint: "distribute_rewards",
		DrawID:     drawID,
		Nonce:      next,
	}
	for _, transfer := range transfers {
		payload.Transfers = append(payload.Transfers, transferPayload{
			PublicKey: transfer.PublicKey,
			Amount:    transfer.Amount.String(),
		})
	}

	return c.submit(ctx, payload)
}

func (c *SidecarClient) SubmitUnstakeTrigger(ctx context.Context, publicKeys []string) (*SubmitResult, error) {

	next, err := c.nonces.NextNonce(c.signerKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	payload := struct {
		ChainName  string   `json:"chain_name"`
		EntryPoint string   `json:"entry_point"`
		Nonce      int64    `json:"nonce"`
		PublicKeys []string `json:"public_keys"`
	}{
		ChainName:  c.networkName,
		EntryPoint: "process_unstake",
		Nonce:      next,
		PublicKeys: publicKeys,
	}

	return c.submit(ctx, payload)
}

func (c *SidecarClient) submit(ctx context.Context, payload any) (*SubmitResult, error) {

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.nodeURL+"/deploy", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := c.http.Do(request)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: deploy returned status %d", ErrUnavailable, response.StatusCode)
	}

	var decoded submitResponse
	if err := json.NewDecoder(response.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return &SubmitResult{
		TxRef:        decoded.TxRef,
		OK:           decoded.OK,
		ErrorMessage: decoded.ErrorMessage,
	}, nil
}

type eventPayload struct {
	EventID      string    `json:"event_id"`
	ExternalRef  string    `json:"external_ref"`
	EventType    string    `json:"event_type"`
	ChainHeight  int64     `json:"chain_height"`
	At           time.Time `json:"at"`
	PublicKey    string    `json:"public_key"`
	Amount       string    `json:"amount,omitempty"`
	DrawID       string    `json:"draw_id,omitempty"`
	Rank         int       `json:"rank,omitempty"`
	TotalWinners int       `json:"total_winners,omitempty"`
}

func (c *SidecarClient) FetchEvents(ctx context.Context, fromHeight int64, toHeight *int64) ([]Event, error) {

	url := fmt.Sprintf("%s/events/history?from=%d", c.sidecarURL, fromHeight)
	if toHeight != nil {
		url = fmt.Sprintf("%s&to=%d", url, *toHeight)
	}

	var payloads []eventPayload
	if err := c.getJSON(ctx, url, &payloads); err != nil {
		return nil, err
	}

	events := make([]Event, 0, len(payloads))
	for _, payload := range payloads {
		event, err := payload.toEvent()
		if err != nil {
			logger.Warn("skipping undecodable historical event", zap.String("eventID", payload.EventID), zap.Error(err))
			continue
		}
		events = append(events, event)
	}
	return events, nil
}

// WatchEvents subscribes to the sidecar's SSE stream. The channel closes
// when ctx is cancelled or the subscription drops; the caller decides
// whether to resubscribe.
func (c *SidecarClient) WatchEvents(ctx context.Context) (<-chan Event, error) {

	client := sse.NewClient(c.sidecarURL + "/events/main")
	raw := make(chan *sse.Event, 64)

	if err := client.SubscribeChanRawWithContext(ctx, raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	out := make(chan Event)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case message, ok := <-raw:
				if !ok {
					return
				}
				if len(message.Data) == 0 {
					continue
				}

				var payload eventPayload
				if err := json.Unmarshal(message.Data, &payload); err != nil {
					logger.Warn("undecodable stream event", zap.Error(err))
					continue
				}
				event, err := payload.toEvent()
				if err != nil {
					logger.Warn("undecodable stream event", zap.String("eventID", payload.EventID), zap.Error(err))
					continue
				}

				select {
				case <-ctx.Done():
					return
				case out <- event:
				}
			}
		}
	}()

	return out, nil
}

func (p eventPayload) toEvent() (Event, error) {
	event := Event{
		EventID:      p.EventID,
		ExternalRef:  p.ExternalRef,
		Type:         p.EventType,
		ChainHeight:  p.ChainHeight,
		At:           p.At,
		PublicKey:    p.PublicKey,
		DrawID:       p.DrawID,
		Rank:         p.Rank,
		TotalWinners: p.TotalWinners,
	}

	if p.Amount != "" {
		amount, err := decimal.NewFromString(p.Amount)
		if err != nil {
			return Event{}, err
		}
		event.Amount = amount
	}
	return event, nil
}

func (c *SidecarClient) getJSON(ctx context.Context, url string, target any) error {

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	request.Header.Set("Accept", "application/json")

	response, err := c.http.Do(request)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %s returned status %d", ErrUnavailable, url, response.StatusCode)
	}

	return json.NewDecoder(response.Body).Decode(target)
}
