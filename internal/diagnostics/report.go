package diagnostics

import (
	"net/http"
	"net/url"
	"strings"
	"time"
)

// recognizedHostSuffixes are hosted automation platforms whose webhook URLs
// do not always carry a /webhook path segment.
var recognizedHostSuffixes = []string{".elestio.app", ".n8n.cloud"}

// ValidateURL checks the shape of a webhook URL. Unparsable URLs are errors;
// every other concern only downgrades the result to a warning, and multiple
// concerns accumulate messages rather than escalating.
func ValidateURL(raw string) TestResult {
	res := newResult(ProbeURLFormat, time.Now())
	res.Request = &RequestSnapshot{URL: raw}

	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Scheme == "" || u.Host == "" {
		res.Status = StatusError
		res.Message = "URL cannot be parsed"
		if err != nil {
			res.ErrorMessage = err.Error()
		} else {
			res.ErrorMessage = "URL must include a scheme and host"
		}
		return res
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		res.Status = StatusError
		res.Message = "URL cannot be parsed"
		res.ErrorMessage = "unsupported scheme " + u.Scheme
		return res
	}

	var warnings []string
	if u.Scheme != "https" {
		warnings = append(warnings, "URL does not use HTTPS")
	}
	if !strings.Contains(u.Path, "/webhook") && !recognizedHost(u.Hostname()) {
		warnings = append(warnings, "URL does not look like an n8n webhook (no /webhook path and unrecognized host)")
	}

	if len(warnings) > 0 {
		res.Status = StatusWarning
		res.Message = strings.Join(warnings, "; ")
		return res
	}
	res.Status = StatusSuccess
	res.Message = "URL format looks valid"
	return res
}

func recognizedHost(host string) bool {
	host = strings.ToLower(host)
	if strings.Contains(host, "n8n") {
		return true
	}
	for _, suffix := range recognizedHostSuffixes {
		if strings.HasSuffix(host, suffix) {
			return true
		}
	}
	return false
}

// Aggregate derives the overall verdict: critical with more than one error,
// degraded with one error or more than one warning, healthy otherwise.
func Aggregate(results []TestResult) Overall {
	var errs, warns int
	for _, r := range results {
		switch r.Status {
		case StatusError:
			errs++
		case StatusWarning:
			warns++
		}
	}
	switch {
	case errs > 1:
		return Critical
	case errs >= 1 || warns > 1:
		return Degraded
	default:
		return Healthy
	}
}

// Recommendations lists remediation hints for every probe that did not
// succeed, in probe order.
func Recommendations(results []TestResult) []string {
	recs := []string{}
	for _, r := range results {
		if r.Status == StatusSuccess {
			continue
		}
		switch r.Name {
		case ProbeConnectivity:
			recs = append(recs, "Check that the webhook host is reachable and the automation instance is running.")
		case ProbeCORS:
			recs = append(recs, "Allow the dashboard origin in the webhook's CORS settings if it is called from a browser.")
		case ProbePOST:
			switch r.HTTPStatus {
			case http.StatusNotFound:
				recs = append(recs, "The webhook path is not registered: activate the workflow or use its production URL.")
			case http.StatusMethodNotAllowed:
				recs = append(recs, "Configure the webhook node to accept POST requests.")
			default:
				recs = append(recs, "Verify the workflow is active and accepts JSON POST requests.")
			}
		case ProbeURLFormat:
			if r.Status == StatusError {
				recs = append(recs, "Enter a complete webhook URL including scheme and host.")
				continue
			}
			if strings.Contains(r.Message, "HTTPS") {
				recs = append(recs, "Use an HTTPS webhook URL.")
			}
			if strings.Contains(r.Message, "n8n webhook") {
				recs = append(recs, "Double-check the URL: n8n webhook URLs usually contain /webhook/.")
			}
		}
	}
	return recs
}
