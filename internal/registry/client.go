// ABOUTME: Read-only client for the on-chain version registry contract
// ABOUTME: Two eth_call views: getCidByVersion(string) and getLatestRelease()

package registry

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/sha3"
)

// ErrNotFound is returned when the registry has no entry for a version.
var ErrNotFound = errors.New("version not found in registry")

// Client reads the DAO-maintained version registry over JSON-RPC. Pure
// reads; retry policy is whatever the HTTP client does.
type Client struct {
	rpcURL   string
	contract string
	http     *http.Client
	logger   *slog.Logger
}

// NewClient creates a registry client for the contract at the given
// JSON-RPC endpoint.
func NewClient(rpcURL, contract string) *Client {
	return &Client{
		rpcURL:   rpcURL,
		contract: contract,
		http:     &http.Client{Timeout: 15 * time.Second},
		logger:   slog.Default().With("component", "registry"),
	}
}

// CidByVersion returns the trusted CID recorded for a release version.
func (c *Client) CidByVersion(ctx context.Context, version string) (string, error) {
	data := append(selector("getCidByVersion(string)"), encodeString(version)...)
	result, err := c.ethCall(ctx, data)
	if err != nil {
		return "", err
	}
	cid, err := decodeString(result, 0)
	if err != nil {
		return "", fmt.Errorf("decoding registry response: %w", err)
	}
	if cid == "" {
		return "", fmt.Errorf("%w: %s", ErrNotFound, version)
	}
	return cid, nil
}

// LatestRelease returns the newest version string and its CID.
func (c *Client) LatestRelease(ctx context.Context) (version, cid string, err error) {
	result, err := c.ethCall(ctx, selector("getLatestRelease()"))
	if err != nil {
		return "", "", err
	}
	if version, err = decodeString(result, 0); err != nil {
		return "", "", fmt.Errorf("decoding latest version: %w", err)
	}
	if cid, err = decodeString(result, 1); err != nil {
		return "", "", fmt.Errorf("decoding latest cid: %w", err)
	}
	return version, cid, nil
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	Result string `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// ethCall performs one read-only contract call at the latest block.
func (c *Client) ethCall(ctx context.Context, data []byte) ([]byte, error) {
	req := rpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "eth_call",
		Params: []any{
			map[string]string{"to": c.contract, "data": "0x" + hex.EncodeToString(data)},
			"latest",
		},
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding rpc request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building rpc request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("calling rpc endpoint: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("reading rpc response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rpc endpoint returned %s", resp.Status)
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(raw, &rpcResp); err != nil {
		return nil, fmt.Errorf("parsing rpc response: %w", err)
	}
	if rpcResp.Error != nil {
		return nil, fmt.Errorf("rpc error %d: %s", rpcResp.Error.Code, rpcResp.Error.Message)
	}

	return hex.DecodeString(strings.TrimPrefix(rpcResp.Result, "0x"))
}

// selector is the 4-byte keccak prefix of a function signature.
func selector(signature string) []byte {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(signature))
	return h.Sum(nil)[:4]
}

// encodeString ABI-encodes a single dynamic string argument.
func encodeString(s string) []byte {
	data := []byte(s)
	padded := (len(data) + 31) / 32 * 32

	out := make([]byte, 64+padded)
	binary.BigEndian.PutUint64(out[24:32], 32) // offset of the data area
	binary.BigEndian.PutUint64(out[56:64], uint64(len(data)))
	copy(out[64:], data)
	return out
}

// decodeString reads the idx-th string from an ABI-encoded return value.
// Bounds are checked by subtraction so hostile offsets and lengths near
// MaxUint64 cannot wrap past the checks.
func decodeString(data []byte, idx int) (string, error) {
	headPos := idx * 32
	if len(data) < headPos+32 {
		return "", errors.New("return data too short for head")
	}
	size := uint64(len(data))
	offset := binary.BigEndian.Uint64(data[headPos+24 : headPos+32])
	if offset > size || size-offset < 32 {
		return "", errors.New("return data offset out of range")
	}
	length := binary.BigEndian.Uint64(data[offset+24 : offset+32])
	start := offset + 32
	if length > size-start {
		return "", errors.New("return data length out of range")
	}
	return string(data[start : start+length]), nil
}
