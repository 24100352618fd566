// Package flashbots implements the private-relay bundle protocol: signed
// JSON-RPC over HTTP with simulation before submission.
package flashbots

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"
)

const (
	contentTypeJSON  = "application/json"
	flashbotsXHeader = "X-Flashbots-Signature"

	methodSendBundle = "eth_sendBundle"
	methodCallBundle = "eth_callBundle"

	defaultTimeout = 10 * time.Second
)

// Client is a Flashbots relay client. Requests are signed with the auth key;
// the relay uses the signature for reputation, not custody.
type Client struct {
	httpClient *http.Client
	relayURL   string
	authSigner *ecdsa.PrivateKey
	logger     *zap.Logger
}

// NewClient creates a relay client for relayURL authenticated by authKey.
func NewClient(relayURL string, authKey *ecdsa.PrivateKey, logger *zap.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: defaultTimeout},
		relayURL:   relayURL,
		authSigner: authKey,
		logger:     logger,
	}
}

type bundleParams struct {
	Txs              []string `json:"txs"`
	BlockNumber      string   `json:"blockNumber"`
	StateBlockNumber string   `json:"stateBlockNumber,omitempty"`
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type callBundleResult struct {
	Results []struct {
		Error  string `json:"error"`
		Revert string `json:"revert"`
	} `json:"results"`
}

// Simulate dry-runs a signed transaction against targetBlock's state. A nil
// return means the relay executed the bundle without error; failures carry
// the relay-reported reason so callers can classify them.
func (c *Client) Simulate(ctx context.Context, signedTx []byte, targetBlock uint64) error {
	params := bundleParams{
		Txs:              []string{hexutil.Encode(signedTx)},
		BlockNumber:      hexutil.EncodeUint64(targetBlock),
		StateBlockNumber: "latest",
	}

	var result callBundleResult
	if err := c.do(ctx, methodCallBundle, params, &result); err != nil {
		return err
	}

	for _, r := range result.Results {
		if r.Error != "" {
			if r.Revert != "" {
				return fmt.Errorf("flashbots: simulation failed: %s (%s)", r.Error, r.Revert)
			}
			return fmt.Errorf("flashbots: simulation failed: %s", r.Error)
		}
	}
	return nil
}

// SendBundle submits signed transactions as a bundle targeting targetBlock.
// A nil return is the relay's acknowledgment, not an inclusion guarantee.
func (c *Client) SendBundle(ctx context.Context, signedTxs [][]byte, targetBlock uint64) error {
	txs := make([]string, len(signedTxs))
	for i, tx := range signedTxs {
		txs[i] = hexutil.Encode(tx)
	}
	params := bundleParams{
		Txs:         txs,
		BlockNumber: hexutil.EncodeUint64(targetBlock),
	}

	var ack json.RawMessage
	if err := c.do(ctx, methodSendBundle, params, &ack); err != nil {
		return err
	}
	c.logger.Debug("Bundle accepted by relay", zap.Uint64("target_block", targetBlock))
	return nil
}

func (c *Client) do(ctx context.Context, method string, params interface{}, out interface{}) error {
	payload, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  method,
		Params:  []interface{}{params},
	})
	if err != nil {
		return fmt.Errorf("flashbots: marshal %s: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.relayURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("flashbots: create request: %w", err)
	}

	header, err := c.signPayload(payload)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentTypeJSON)
	req.Header.Set("Accept", contentTypeJSON)
	req.Header.Set(flashbotsXHeader, header)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("flashbots: %s request: %w", method, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("flashbots: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("flashbots: %s returned status %d: %s", method, resp.StatusCode, string(body))
	}

	var envelope struct {
		Result json.RawMessage `json:"result"`
		Error  *rpcError       `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("flashbots: decode response: %w", err)
	}
	if envelope.Error != nil {
		return fmt.Errorf("flashbots: %s error %d: %s", method, envelope.Error.Code, envelope.Error.Message)
	}
	if out != nil && len(envelope.Result) > 0 {
		if err := json.Unmarshal(envelope.Result, out); err != nil {
			return fmt.Errorf("flashbots: decode %s result: %w", method, err)
		}
	}
	return nil
}

// signPayload builds the X-Flashbots-Signature header: the auth address and
// an EIP-191 signature over the keccak hash of the request body.
func (c *Client) signPayload(payload []byte) (string, error) {
	signature, err := crypto.Sign(
		accounts.TextHash([]byte(hexutil.Encode(crypto.Keccak256(payload)))),
		c.authSigner,
	)
	if err != nil {
		return "", fmt.Errorf("flashbots: sign request: %w", err)
	}
	return fmt.Sprintf("%s:%s",
		crypto.PubkeyToAddress(c.authSigner.PublicKey).Hex(),
		hexutil.Encode(signature),
	), nil
}
