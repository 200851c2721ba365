package policy

import (
	"context"
	"crypto/x509"
	"fmt"
	"os"

	"github.com/cloudflare/cfssl/helpers"
	"go.uber.org/zap"

	"github.com/brightcandlelight/trustbase-linux/pkg/core/evidence"
	"github.com/brightcandlelight/trustbase-linux/utils"
)

// DefaultEngine is the one trust decision every install gets out of the
// box before any plugin/congress engine is configured: standard X.509
// chain verification of the captured certificate chain against a
// configured CA bundle, applied to the leaf/intermediate chain captured
// off the wire rather than a locally generated MITM cert.
type DefaultEngine struct {
	roots  *x509.CertPool
	logger *zap.Logger
}

// NewDefaultEngine builds a DefaultEngine trusting the PEM certificates
// found in caBundlePath, in addition to the host's system roots.
func NewDefaultEngine(caBundlePath string, logger *zap.Logger) (*DefaultEngine, error) {
	pool, err := x509.SystemCertPool()
	if err != nil || pool == nil {
		pool = x509.NewCertPool()
	}

	if caBundlePath != "" {
		path, err := utils.ExpandPath(caBundlePath)
		if err != nil {
			utils.LogError(logger, err, "failed to resolve CA bundle path", zap.String("path", caBundlePath))
			return nil, err
		}
		exists, err := utils.FileExists(path)
		if err == nil && !exists {
			err = fmt.Errorf("CA bundle %q does not exist", path)
		}
		if err != nil {
			utils.LogError(logger, err, "failed to locate CA bundle", zap.String("path", path))
			return nil, err
		}

		raw, err := os.ReadFile(path)
		if err != nil {
			utils.LogError(logger, err, "failed to read CA bundle", zap.String("path", path))
			return nil, err
		}
		certs, err := helpers.ParseCertificatesPEM(raw)
		if err != nil {
			utils.LogError(logger, err, "failed to parse CA bundle", zap.String("path", path))
			return nil, err
		}
		for _, c := range certs {
			pool.AddCert(c)
		}
	}

	return &DefaultEngine{roots: pool, logger: logger}, nil
}

// Query implements Engine. It parses the raw DER chain captured by the
// handshake parser and verifies it against the configured root pool,
// exactly the PLUGIN_RESPONSE_VALID/INVALID/ABSTAIN/ERROR shape
// trustbase_plugin.h defines: abstain (rather than reject) when there is
// simply no chain to judge, since that's a capture gap, not a distrust
// signal.
func (e *DefaultEngine) Query(_ context.Context, q Query) evidence.Verdict {
	if len(q.Chain) == 0 {
		return evidence.Abstain
	}

	leaf, err := x509.ParseCertificate(q.Chain[0])
	if err != nil {
		if e.logger != nil {
			utils.LogError(e.logger, err, "failed to parse leaf certificate", zap.String("hostname", q.Hostname))
		}
		return evidence.ErrVerdict
	}

	intermediates := x509.NewCertPool()
	for _, der := range q.Chain[1:] {
		if c, err := x509.ParseCertificate(der); err == nil {
			intermediates.AddCert(c)
		}
	}

	opts := x509.VerifyOptions{
		DNSName:       q.Hostname,
		Roots:         e.roots,
		Intermediates: intermediates,
	}
	if _, err := leaf.Verify(opts); err != nil {
		if e.logger != nil {
			e.logger.Debug("chain verification failed",
				zap.String("hostname", q.Hostname),
				zap.String("leafFingerprint", utils.Hash(q.Chain[0])),
				zap.Error(err))
		}
		return evidence.Invalid
	}
	if e.logger != nil {
		e.logger.Debug("chain verified",
			zap.String("hostname", q.Hostname),
			zap.String("leafFingerprint", utils.Hash(q.Chain[0])))
	}
	return evidence.Valid
}
