// Package audit records a tamper-evident trail of dispatch actions.
package audit

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// GenesisHash is the previous hash of the first entry in a chain.
var GenesisHash = strings.Repeat("0", sha256.Size*2)

// SystemUser is recorded when an action has no acting user.
const SystemUser = "system"

// Entry is one audit record. Hash covers every other field and the previous hash.
type Entry struct {
	ID            string         `json:"id"`
	Seq           uint64         `json:"seq"`
	Action        string         `json:"action"`
	UserID        string         `json:"user_id"`
	Details       map[string]any `json:"details,omitempty"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
	PrevHash      string         `json:"prev_hash"`
	Hash          string         `json:"hash"`
}

// ComputeHash returns sha256(prev_hash || canonical JSON of e without Hash).
func ComputeHash(e Entry) (string, error) {
	e.Hash = ""
	e.Timestamp = e.Timestamp.UTC()

	payload, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("encode audit entry: %w", err)
	}

	h := sha256.New()
	h.Write([]byte(e.PrevHash))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// ChainError identifies the first entry at which a chain stops verifying.
type ChainError struct {
	Seq    uint64
	Reason string
}

func (e *ChainError) Error() string {
	return fmt.Sprintf("audit chain broken at seq %d: %s", e.Seq, e.Reason)
}

// VerifyChain checks that entries are consecutive and correctly linked. prev is
// the hash of the entry preceding entries[0]; pass GenesisHash for a full chain.
// The returned hash is the last verified one, usable as prev for the next page.
func VerifyChain(entries []Entry, prev string) (string, error) {
	for i, entry := range entries {
		if i > 0 && entry.Seq != entries[i-1].Seq+1 {
			return prev, &ChainError{Seq: entry.Seq, Reason: fmt.Sprintf("expected seq %d", entries[i-1].Seq+1)}
		}

		if entry.PrevHash != prev {
			return prev, &ChainError{Seq: entry.Seq, Reason: "previous hash mismatch"}
		}

		want, err := ComputeHash(entry)
		if err != nil {
			return prev, &ChainError{Seq: entry.Seq, Reason: err.Error()}
		}
		if want != entry.Hash {
			return prev, &ChainError{Seq: entry.Seq, Reason: "hash mismatch"}
		}

		prev = entry.Hash
	}

	return prev, nil
}

// normalizeDetails round-trips details through JSON so the stored form hashes
// identically after being reloaded from any sink.
func normalizeDetails(details map[string]any) (map[string]any, error) {
	if len(details) == 0 {
		return nil, nil
	}

	raw, err := json.Marshal(details)
	if err != nil {
		return nil, fmt.Errorf("encode audit details: %w", err)
	}

	return DecodeDetails(raw)
}

// DecodeDetails parses stored details, keeping numbers in their literal form.
func DecodeDetails(raw []byte) (map[string]any, error) {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var out map[string]any
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("decode audit details: %w", err)
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}
