// Package booking posts approved suggestions to the accounting system.
package booking

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Veraticus/tally/internal/model"
)

// Voucher is one line of the journal file.
type Voucher struct {
	PostedAt    time.Time       `json:"posted_at"`
	VoucherID   string          `json:"voucher_id"`
	ClientID    string          `json:"client_id"`
	ItemID      string          `json:"item_id,omitempty"`
	SubjectRef  string          `json:"subject_ref"`
	AccountCode string          `json:"account_code"`
	VATCode     string          `json:"vat_code,omitempty"`
	Description string          `json:"description,omitempty"`
	Amount      decimal.Decimal `json:"amount"`
}

// Journal appends postings as JSON lines to a file and hands out voucher IDs.
type Journal struct {
	now  func() time.Time
	path string
	mu   sync.Mutex
}

// NewJournal creates a journal writing to path, creating its directory.
func NewJournal(path string) (*Journal, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("journal path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}
	return &Journal{path: path, now: time.Now}, nil
}

// Path returns the journal file path.
func (j *Journal) Path() string {
	return j.path
}

// Post appends p to the journal and returns its voucher ID. A posting for a
// review item that is already in the journal returns the existing voucher, so
// a resolution retried after a failed commit does not post twice.
func (j *Journal) Post(ctx context.Context, p model.Posting) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if p.ClientID == "" || p.AccountCode == "" {
		return "", errors.New("posting needs a client and an account code")
	}

	v := Voucher{
		PostedAt:    j.now().UTC(),
		VoucherID:   newVoucherID(),
		ClientID:    p.ClientID,
		ItemID:      p.ItemID,
		SubjectRef:  p.SubjectRef,
		AccountCode: p.AccountCode,
		VATCode:     p.VATCode,
		Description: p.Description,
		Amount:      p.Amount,
	}
	line, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal voucher: %w", err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if p.ItemID != "" {
		existing, err := j.readVouchers()
		if err != nil {
			return "", err
		}
		for _, prev := range existing {
			if prev.ItemID == p.ItemID && prev.ClientID == p.ClientID {
				return prev.VoucherID, nil
			}
		}
	}

	f, err := os.OpenFile(j.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return "", fmt.Errorf("failed to open journal: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("failed to write voucher: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to close journal: %w", err)
	}
	return v.VoucherID, nil
}

// Vouchers reads every voucher in the journal. A missing file is empty.
func (j *Journal) Vouchers() ([]Voucher, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.readVouchers()
}

func (j *Journal) readVouchers() ([]Voucher, error) {
	f, err := os.Open(j.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	defer func() { _ = f.Close() }()

	var vouchers []Voucher
	scanner := bufio.NewScanner(f)
	for line := 1; scanner.Scan(); line++ {
		if len(strings.TrimSpace(scanner.Text())) == 0 {
			continue
		}
		var v Voucher
		if err := json.Unmarshal(scanner.Bytes(), &v); err != nil {
			return nil, fmt.Errorf("journal line %d: %w", line, err)
		}
		vouchers = append(vouchers, v)
	}
	return vouchers, scanner.Err()
}

func newVoucherID() string {
	return "V-" + strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", "")[:12])
}
