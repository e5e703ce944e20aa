package checker

import (
	"context"
	"strings"
	"time"

	"github.com/likexian/whois"

	"github.com/pulsegrid/pulsegrid/internal/db"
)

// DomainChecker watches registration expiry through WHOIS. Registrars
// format expiry lines inconsistently, so extraction is pattern-based and
// an unreadable record classifies as an error, not an expired domain.
type DomainChecker struct{}

func NewDomainChecker() *DomainChecker {
	return &DomainChecker{}
}

func (d *DomainChecker) Check(ctx context.Context, monitor *db.Monitor, region string) *Outcome {
	o := &Outcome{Payload: db.JSONB{}}

	domain := monitor.Target
	domain = strings.TrimPrefix(domain, "http://")
	domain = strings.TrimPrefix(domain, "https://")
	domain = strings.Split(domain, "/")[0]

	start := time.Now()
	raw, err := whois.Whois(domain)
	o.ResponseTimeMs = int(time.Since(start).Milliseconds())
	if err != nil {
		if ctx.Err() != nil {
			o.TimedOut = true
			return o
		}
		o.ErrorCode = "whois_failed"
		o.ErrorMessage = err.Error()
		return o
	}

	d.evaluateRecord(o, raw, monitor.Config.MinDaysBeforeExpiry)
	return o
}

func (d *DomainChecker) evaluateRecord(o *Outcome, raw string, minDays int) {
	expiry := extractExpiryDate(raw)
	if expiry.IsZero() {
		// The registrar answered but the record is uninterpretable;
		// leaving Completed unset keeps this out of the failure bucket.
		o.ErrorCode = "expiry_unreadable"
		o.ErrorMessage = "could not extract expiry date from whois record"
		return
	}
	o.Completed = true

	now := time.Now()
	daysLeft := int(expiry.Sub(now).Hours() / 24)
	o.Payload["expiry_date"] = expiry.Format(time.RFC3339)
	o.Payload["days_until_expiry"] = daysLeft

	if now.After(expiry) {
		o.ErrorCode = "domain_expired"
		o.ErrorMessage = "domain registration has expired"
		return
	}
	if minDays > 0 && daysLeft < minDays {
		o.ErrorCode = "domain_expiring"
		o.ErrorMessage = "domain registration expires soon"
		return
	}

	o.Matched = true
}

var expiryPatterns = []string{
	"registry expiry date:",
	"registrar registration expiration date:",
	"expiry date:",
	"expiration date:",
	"expires:",
	"expiry:",
	"paid-till:",
}

var expiryFormats = []string{
	time.RFC3339,
	"2006-01-02T15:04:05Z",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"02-Jan-2006",
	"2006.01.02",
}

func extractExpiryDate(raw string) time.Time {
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		lower := strings.ToLower(line)
		for _, pattern := range expiryPatterns {
			if !strings.HasPrefix(lower, pattern) {
				continue
			}
			dateStr := strings.TrimSpace(line[len(pattern):])
			for _, format := range expiryFormats {
				if t, err := time.Parse(format, dateStr); err == nil {
					return t
				}
			}
		}
	}
	return time.Time{}
}
