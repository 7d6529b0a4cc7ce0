// Package wallet builds the digital member card.
package wallet

import (
	"errors"
	"fmt"

	"github.com/skip2/go-qrcode"

	"capitania.club/internal/ids"
	"capitania.club/internal/member"
)

// DefaultQRSize is the edge length, in pixels, of the rendered QR code.
const DefaultQRSize = 256

// Card is what the wallet screen shows.
type Card struct {
	MemberID    string `json:"member_id"`
	ShortID     string `json:"short_id"`
	FullName    string `json:"full_name"`
	FirstName   string `json:"first_name"`
	CPF         string `json:"cpf"`
	RoleLabel   string `json:"role_label"`
	StatusLabel string `json:"status_label"`
	Active      bool   `json:"active"`
	// QRPayload is the text encoded in the QR code.
	QRPayload string `json:"qr_payload"`
}

// NewCard derives the card of p.
func NewCard(p member.Profile) Card {
	return Card{
		MemberID:    p.ID,
		ShortID:     ids.Short(p.ID),
		FullName:    p.FullName,
		FirstName:   p.FirstName(),
		CPF:         member.FormatCPF(p.CPF),
		RoleLabel:   p.Role.Label(),
		StatusLabel: p.StatusLabel(),
		Active:      p.IsActive,
		QRPayload:   p.ID,
	}
}

// QRPNG renders the card's QR code as PNG. A non-positive size selects
// DefaultQRSize.
func (c Card) QRPNG(size int) ([]byte, error) {
	if c.QRPayload == "" {
		return nil, errors.New("wallet: empty qr payload")
	}
	if size <= 0 {
		size = DefaultQRSize
	}
	png, err := qrcode.Encode(c.QRPayload, qrcode.Medium, size)
	if err != nil {
		return nil, fmt.Errorf("wallet: encode qr: %w", err)
	}
	return png, nil
}

// QRText renders the QR code with terminal block characters.
func (c Card) QRText() (string, error) {
	q, err := qrcode.New(c.QRPayload, qrcode.Medium)
	if err != nil {
		return "", fmt.Errorf("wallet: encode qr: %w", err)
	}
	return q.ToSmallString(false), nil
}
