package session

import (
	"errors"
	"fmt"
	"strings"

	"github.com/openkql/kqlgate/pkg/backends"
	"github.com/openkql/kqlgate/pkg/connstr"
	"github.com/openkql/kqlgate/pkg/engine"
)

// TellFormat returns human-readable guidance describing the accepted
// connection-string shapes for a backend scheme. Unknown schemes get the
// list of valid ones.
func TellFormat(scheme string) string {
	kind, ok := backends.ParseID(scheme)
	if !ok {
		return fmt.Sprintf("unknown scheme %q; valid schemes: %s", scheme, strings.Join(schemeNames(), ", "))
	}

	switch kind {
	case backends.Kusto:
		return strings.Join([]string{
			"kusto connection strings:",
			"  kusto://username('<username>').password('<password>').cluster('<cluster>').database('<database>')",
			"  kusto://clientid('<clientid>').clientsecret('<clientsecret>').cluster('<cluster>').database('<database>')",
			"  kusto://code().cluster('<cluster>').database('<database>')",
			"  <database>@<cluster>  (previously established connections only)",
		}, "\n")
	case backends.AppInsights:
		return strings.Join([]string{
			"appinsights connection strings:",
			"  appinsights://appid('<appid>').appkey('<appkey>')",
			"  appinsights://clientid('<clientid>').clientsecret('<clientsecret>').appid('<appid>')",
		}, "\n")
	case backends.LogAnalytics:
		return strings.Join([]string{
			"loganalytics connection strings:",
			"  loganalytics://workspace('<workspace>').appkey('<appkey>')",
			"  loganalytics://clientid('<clientid>').clientsecret('<clientsecret>').workspace('<workspace>')",
		}, "\n")
	}
	return ""
}

// ErrorGuidance returns follow-up text for a failed connection attempt: the
// expected connection-string format for grammar and credential errors, plus
// the listing of established connections. Errors unrelated to connection
// binding get no guidance.
func (s *Session) ErrorGuidance(err error) string {
	var lines []string

	var parseErr *connstr.ParseError
	var missing *connstr.MissingFieldError
	var unknown *connstr.UnknownSchemaError
	switch {
	case errors.As(err, &parseErr):
		lines = append(lines, TellFormat(string(parseErr.Backend)))
	case errors.As(err, &missing):
		lines = append(lines, TellFormat(string(missing.Backend)))
	case errors.As(err, &unknown):
		lines = append(lines, TellFormat(unknown.Scheme))
	case errors.Is(err, engine.ErrConnectionNotFound),
		errors.Is(err, engine.ErrNoCurrentConnection):
	default:
		return ""
	}

	if listing := s.ListFormatted(); len(listing) > 0 {
		lines = append(lines, "established connections:")
		lines = append(lines, listing...)
	} else {
		lines = append(lines, "no connections established")
	}
	return strings.Join(lines, "\n")
}

func schemeNames() []string {
	ids := backends.IDs()
	names := make([]string, len(ids))
	for i, id := range ids {
		names[i] = string(id)
	}
	return names
}
