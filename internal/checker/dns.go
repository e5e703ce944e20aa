package checker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/miekg/dns"

	"github.com/pulsegrid/pulsegrid/internal/db"
)

// DNSChecker resolves the monitor target against a configurable resolver
// and matches the answers against the expected values.
type DNSChecker struct {
	client   *dns.Client
	resolver string
}

func NewDNSChecker(resolver string) *DNSChecker {
	if resolver == "" {
		resolver = "8.8.8.8:53"
	}
	return &DNSChecker{client: new(dns.Client), resolver: resolver}
}

func (d *DNSChecker) Check(ctx context.Context, monitor *db.Monitor, region string) *Outcome {
	o := &Outcome{Payload: db.JSONB{}}

	recordType := monitor.Config.RecordType
	if recordType == "" {
		recordType = "A"
	}

	query := new(dns.Msg)
	query.SetQuestion(dns.Fqdn(monitor.Target), recordTypeCode(recordType))

	start := time.Now()
	reply, _, err := d.client.ExchangeContext(ctx, query, d.resolver)
	o.ResponseTimeMs = int(time.Since(start).Milliseconds())
	o.DNSMs = o.ResponseTimeMs
	if err != nil {
		if ctx.Err() != nil {
			o.TimedOut = true
			return o
		}
		o.ErrorCode = "dns_query_failed"
		o.ErrorMessage = err.Error()
		return o
	}

	o.Completed = true
	if reply.Rcode != dns.RcodeSuccess {
		o.ErrorCode = "dns_rcode"
		o.ErrorMessage = fmt.Sprintf("query returned %s", dns.RcodeToString[reply.Rcode])
		return o
	}

	answers := extractAnswers(reply, recordType)
	o.Payload["answers"] = answers
	o.Payload["record_count"] = len(answers)

	if len(answers) == 0 {
		o.ErrorCode = "no_records"
		o.ErrorMessage = fmt.Sprintf("no %s records found", recordType)
		return o
	}
	if !answersMatch(answers, monitor.Config.ExpectedValues) {
		o.ErrorCode = "unexpected_records"
		o.ErrorMessage = "expected values not found in answers"
		return o
	}

	o.Matched = true
	return o
}

// answersMatch reports whether any expected value appears in the answer
// set. An empty expectation matches anything.
func answersMatch(answers, expected []string) bool {
	if len(expected) == 0 {
		return true
	}
	for _, want := range expected {
		for _, got := range answers {
			if strings.Contains(got, want) {
				return true
			}
		}
	}
	return false
}

func extractAnswers(reply *dns.Msg, recordType string) []string {
	var answers []string
	for _, ans := range reply.Answer {
		switch recordType {
		case "A":
			if a, ok := ans.(*dns.A); ok {
				answers = append(answers, a.A.String())
			}
		case "AAAA":
			if aaaa, ok := ans.(*dns.AAAA); ok {
				answers = append(answers, aaaa.AAAA.String())
			}
		case "CNAME":
			if cname, ok := ans.(*dns.CNAME); ok {
				answers = append(answers, cname.Target)
			}
		case "MX":
			if mx, ok := ans.(*dns.MX); ok {
				answers = append(answers, fmt.Sprintf("%d %s", mx.Preference, mx.Mx))
			}
		case "TXT":
			if txt, ok := ans.(*dns.TXT); ok {
				answers = append(answers, strings.Join(txt.Txt, " "))
			}
		case "NS":
			if ns, ok := ans.(*dns.NS); ok {
				answers = append(answers, ns.Ns)
			}
		}
	}
	return answers
}

func recordTypeCode(recordType string) uint16 {
	switch recordType {
	case "AAAA":
		return dns.TypeAAAA
	case "CNAME":
		return dns.TypeCNAME
	case "MX":
		return dns.TypeMX
	case "TXT":
		return dns.TypeTXT
	case "NS":
		return dns.TypeNS
	default:
		return dns.TypeA
	}
}
