// Package hooks holds site-specific scripts run after page load. Some
// sites need a nudge (dismissing an interstitial, triggering lazy content)
// before their DOM is worth archiving.
package hooks

import "regexp"

type hook struct {
	pattern *regexp.Regexp
	script  string
}

var postLoadHooks = []hook{
	{
		pattern: regexp.MustCompile(`(?i)^https?://www\.forbes\.com/forbes/welcome`),
		script: `(function() {
  var continueLink = document.querySelector('a.continue-button, .welcome-button a');
  if (continueLink) { continueLink.click(); }
})()`,
	},
	{
		pattern: regexp.MustCompile(`(?i)^https?://rwi\.app/iurisprudentia`),
		script: `(function() {
  window.scrollTo(0, document.body.scrollHeight);
  var expanders = document.querySelectorAll('.expand-decision');
  for (var i = 0; i < expanders.length; i++) { expanders[i].click(); }
})()`,
	},
}

// PostLoadScript returns the script to run after load for the current URL,
// or empty when the site needs none. Matching is case-insensitive on the
// URL as delivered by the browser.
func PostLoadScript(currentURL string) string {
	for _, h := range postLoadHooks {
		if h.pattern.MatchString(currentURL) {
			return h.script
		}
	}
	return ""
}
