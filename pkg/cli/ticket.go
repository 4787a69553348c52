package cli

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/xconnio/wampble/internal/log"
)

var errOpaqueTicket = errors.New("ticket is not a JWT")

// TicketInfo holds the claims of a JWT ticket. Routers verify the signature; the client only reads
// the claims to pick a default authid and to warn about expiry before it sends HELLO.
type TicketInfo struct {
	Subject   string
	Issuer    string
	ExpiresAt time.Time
}

// InspectTicket parses ticket as a JWT without verifying it. Tickets that are not JWTs return an
// error; they are still valid WAMP tickets.
func InspectTicket(ticket string) (*TicketInfo, error) {
	token, _, err := jwt.NewParser().ParseUnverified(ticket, jwt.MapClaims{})
	if err != nil {
		return nil, errOpaqueTicket
	}
	var info TicketInfo
	if info.Subject, err = token.Claims.GetSubject(); err != nil {
		return nil, err
	}
	if info.Issuer, err = token.Claims.GetIssuer(); err != nil {
		return nil, err
	}
	exp, err := token.Claims.GetExpirationTime()
	if err != nil {
		return nil, err
	}
	if exp != nil {
		info.ExpiresAt = exp.Time
	}
	return &info, nil
}

// Expired reports whether the ticket carries an expiration time before now.
func (t *TicketInfo) Expired(now time.Time) bool {
	return !t.ExpiresAt.IsZero() && now.After(t.ExpiresAt)
}

// Warn logs when the ticket has expired; the router is expected to reject it.
func (t *TicketInfo) Warn() {
	if t.Expired(time.Now()) {
		log.Warning("Ticket for %q expired at %s", t.Subject, t.ExpiresAt.Format(time.RFC3339))
	}
}
