// Package ofx imports OFX/QFX bank statements as bank transactions.
package ofx

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/aclindsa/ofxgo"
	"github.com/shopspring/decimal"

	"github.com/Veraticus/tally/internal/common"
	"github.com/Veraticus/tally/internal/model"
)

// DefaultCurrency is used when a statement carries no CURDEF.
const DefaultCurrency = "NOK"

var (
	severityRegex = regexp.MustCompile(`(?i)<SEVERITY>(Info|Warn|Error)</SEVERITY>`)
	// Opening tags that lost their closing bracket in SGML exports.
	tagFixRegex = regexp.MustCompile(`(?m)^(\s*<[A-Z][A-Z0-9._]*[A-Z0-9])$`)
)

// Parser implements OFX/QFX file parsing.
type Parser struct{}

// NewParser creates a new OFX parser.
func NewParser() *Parser {
	return &Parser{}
}

// preprocessOFX fixes common formatting issues in OFX files.
func (p *Parser) preprocessOFX(content string) string {
	content = strings.TrimLeft(content, " \t\r\n")

	content = severityRegex.ReplaceAllStringFunc(content, strings.ToUpper)
	return tagFixRegex.ReplaceAllString(content, "$1>")
}

func (p *Parser) parse(reader io.Reader) (*ofxgo.Response, error) {
	content, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read OFX file: %w", err)
	}

	resp, err := ofxgo.ParseResponse(strings.NewReader(p.preprocessOFX(string(content))))
	if err != nil {
		return nil, fmt.Errorf("failed to parse OFX file: %w", err)
	}
	return resp, nil
}

// ParseFile parses an OFX/QFX file into bank transactions for clientID.
// Amounts keep their OFX sign, which already means positive is money in.
func (p *Parser) ParseFile(ctx context.Context, reader io.Reader, clientID string) ([]model.BankTransaction, error) {
	if strings.TrimSpace(clientID) == "" {
		return nil, common.Validationf("client ID is required for OFX import")
	}

	resp, err := p.parse(reader)
	if err != nil {
		return nil, err
	}

	var transactions []model.BankTransaction
	var bankStmts, ccStmts int

	for _, msg := range resp.Bank {
		if stmt, ok := msg.(*ofxgo.StatementResponse); ok {
			bankStmts++
			if stmt.BankTranList == nil {
				continue
			}
			txns, err := p.convertList(stmt.BankTranList.Transactions, clientID,
				string(stmt.BankAcctFrom.AcctID), currencyOf(stmt.CurDef))
			if err != nil {
				slog.Warn("Failed to process bank statement",
					"account", stmt.BankAcctFrom.AcctID,
					"error", err)
				continue
			}
			transactions = append(transactions, txns...)
		}
	}

	for _, msg := range resp.CreditCard {
		if stmt, ok := msg.(*ofxgo.CCStatementResponse); ok {
			ccStmts++
			if stmt.BankTranList == nil {
				continue
			}
			txns, err := p.convertList(stmt.BankTranList.Transactions, clientID,
				string(stmt.CCAcctFrom.AcctID), currencyOf(stmt.CurDef))
			if err != nil {
				slog.Warn("Failed to process credit card statement",
					"account", stmt.CCAcctFrom.AcctID,
					"error", err)
				continue
			}
			transactions = append(transactions, txns...)
		}
	}

	slog.Info("Parsed OFX file",
		"client_id", clientID,
		"total_transactions", len(transactions),
		"bank_statements", bankStmts,
		"cc_statements", ccStmts)

	return transactions, ctx.Err()
}

func (p *Parser) convertList(list []ofxgo.Transaction, clientID, accountID, currency string) ([]model.BankTransaction, error) {
	transactions := make([]model.BankTransaction, 0, len(list))
	for _, ofxTx := range list {
		tx, err := p.convertTransaction(ofxTx, clientID, accountID, currency)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, tx)
	}
	return transactions, nil
}

// convertTransaction converts an OFX transaction to our model.
func (p *Parser) convertTransaction(ofxTx ofxgo.Transaction, clientID, accountID, currency string) (model.BankTransaction, error) {
	amount, err := decimal.NewFromString(ofxTx.TrnAmt.FloatString(2))
	if err != nil {
		return model.BankTransaction{}, fmt.Errorf("transaction %s: bad amount: %w", ofxTx.FiTID, err)
	}

	description := strings.TrimSpace(string(ofxTx.Name))
	if description == "" {
		description = strings.TrimSpace(string(ofxTx.Memo))
	}

	posted := ofxTx.DtPosted.Time
	tx := model.BankTransaction{
		ID:           accountID + "-" + string(ofxTx.FiTID),
		ClientID:     clientID,
		AccountID:    accountID,
		Date:         time.Date(posted.Year(), posted.Month(), posted.Day(), 0, 0, 0, 0, time.UTC),
		Amount:       amount,
		Currency:     currency,
		Description:  description,
		Counterparty: p.extractCounterparty(ofxTx),
		KID:          strings.TrimSpace(string(ofxTx.RefNum)),
		Status:       model.StatusUnmatched,
	}
	tx.Hash = tx.GenerateHash()
	return tx, nil
}

// extractCounterparty tries to get a clean payer or payee name from OFX data.
func (p *Parser) extractCounterparty(tx ofxgo.Transaction) string {
	if tx.Payee != nil && tx.Payee.Name != "" {
		return strings.TrimSpace(string(tx.Payee.Name))
	}

	name := string(tx.Name)
	if tx.Memo != "" && isGenericDescription(name) {
		name = string(tx.Memo)
	}
	name = strings.TrimSpace(name)

	prefixes := []string{
		"VAREKJØP ",
		"VISA VARE ",
		"GIRO ",
		"NETTGIRO ",
		"OVERFØRSEL ",
		"POS PURCHASE ",
		"DEBIT CARD PURCHASE ",
	}
	upper := strings.ToUpper(name)
	for _, prefix := range prefixes {
		if strings.HasPrefix(upper, prefix) {
			name = strings.TrimSpace(name[len(prefix):])
			break
		}
	}

	// Card purchases are often prefixed with "DD.MM".
	if len(name) > 6 && name[2] == '.' && name[5] == ' ' {
		name = strings.TrimSpace(name[6:])
	}

	return name
}

func isGenericDescription(name string) bool {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "DEBIT", "CREDIT", "PAYMENT", "GIRO", "OVERFØRSEL", "VAREKJØP":
		return true
	}
	return false
}

func currencyOf(sym ofxgo.CurrSymbol) string {
	s := sym.String()
	if s == "" || s == "XXX" {
		return DefaultCurrency
	}
	return s
}

// GetAccounts extracts unique account IDs from the OFX file.
func (p *Parser) GetAccounts(_ context.Context, reader io.Reader) ([]string, error) {
	resp, err := p.parse(reader)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var accounts []string
	add := func(id ofxgo.String) {
		if id != "" && !seen[string(id)] {
			seen[string(id)] = true
			accounts = append(accounts, string(id))
		}
	}

	for _, msg := range resp.Bank {
		if stmt, ok := msg.(*ofxgo.StatementResponse); ok {
			add(stmt.BankAcctFrom.AcctID)
		}
	}
	for _, msg := range resp.CreditCard {
		if stmt, ok := msg.(*ofxgo.CCStatementResponse); ok {
			add(stmt.CCAcctFrom.AcctID)
		}
	}

	return accounts, nil
}
