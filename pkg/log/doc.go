/*
Package log provides structured logging for the iffish cluster using zerolog.

A single global Logger is configured once via Init and then specialized per
component with WithComponent/WithNodeID/WithPeerID/WithRequestID/WithTerm,
which return child loggers carrying those fields on every entry. JSON output
is used in production; a human-readable console writer is available for
local development.

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})
	l := log.WithComponent("dispatcher")
	l.Info().Str("request_id", req.RequestID).Msg("routed")

Never log token MACs or the cluster/token secrets.
*/
package log
