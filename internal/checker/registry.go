package checker

import "github.com/pulsegrid/pulsegrid/internal/db"

// DefaultRegistry wires the built-in checkers. Reachability-only types
// share the TCP checker; types without a built-in implementation are
// served by remote probes and stay unmapped here.
func DefaultRegistry(dnsResolver string) Registry {
	httpChecker := NewHTTPChecker()
	tcpChecker := NewTCPChecker()

	r := Registry{
		db.MonitorTypeHTTP:   httpChecker,
		db.MonitorTypeHTTPS:  httpChecker,
		db.MonitorTypeSSL:    NewSSLChecker(),
		db.MonitorTypeDNS:    NewDNSChecker(dnsResolver),
		db.MonitorTypeDomain: NewDomainChecker(),
	}
	for _, t := range []db.MonitorType{
		db.MonitorTypeTCP,
		db.MonitorTypeSMTP,
		db.MonitorTypeIMAP,
		db.MonitorTypePOP3,
		db.MonitorTypeSSH,
		db.MonitorTypeFTP,
		db.MonitorTypeLDAP,
		db.MonitorTypePostgres,
		db.MonitorTypeMySQL,
		db.MonitorTypeMongoDB,
		db.MonitorTypeRedis,
		db.MonitorTypeRabbitMQ,
		db.MonitorTypeKafka,
		db.MonitorTypeMQTT,
	} {
		r[t] = tcpChecker
	}
	return r
}
