package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/linkvault/linkvault/internal/browser"
	"github.com/linkvault/linkvault/internal/config"
	"github.com/linkvault/linkvault/internal/proxy"
)

// ChromeSessionFactory builds real sessions: a fresh tracker, a recording
// MITM proxy on a probed loopback port, a headless Chrome dialing through
// it, and a fetch group for side downloads.
func ChromeSessionFactory(proxyCfg config.ProxyConfig, browserCfg config.BrowserConfig, fetchTimeout time.Duration, logger *zap.Logger) (SessionFactory, error) {
	allow, err := proxy.NewAllowlist(proxyCfg.AllowedNets)
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context, userAgent string) (*Session, error) {
		tracker := proxy.NewTracker()
		recorder, err := proxy.Start(proxy.Config{
			PortMin:    proxyCfg.PortMin,
			PortMax:    proxyCfg.PortMax,
			ChunkBytes: proxyCfg.ChunkBytes,
		}, tracker, allow, logger)
		if err != nil {
			return nil, err
		}

		chrome, err := browser.New(browser.Config{
			ProxyAddr:   recorder.Addr(),
			UserAgent:   userAgent,
			Width:       browserCfg.WindowWidth,
			Height:      browserCfg.WindowHeight,
			NavTimeout:  time.Duration(browserCfg.NavTimeoutSec) * time.Second,
			EvalTimeout: time.Duration(browserCfg.EvalTimeoutSec) * time.Second,
		}, logger)
		if err != nil {
			shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			if serr := recorder.Shutdown(shutdownCtx); serr != nil {
				logger.Warn("proxy shutdown after browser failure", zap.Error(serr))
			}
			return nil, err
		}

		fetches := proxy.NewFetchGroup(recorder.Addr(), tracker, userAgent, proxyCfg.ChunkBytes, fetchTimeout, logger)
		return &Session{
			Tracker:  tracker,
			Recorder: recorder,
			Browser:  chrome,
			Fetches:  fetches,
		}, nil
	}, nil
}
