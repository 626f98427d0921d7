package command

import gocmd "github.com/goliatone/go-command"

var (
	_ gocmd.Commander[ProcessWebhookMessage]         = (*ProcessWebhookCommand)(nil)
	_ gocmd.Commander[UpsertRetryMappingMessage]     = (*UpsertRetryMappingCommand)(nil)
	_ gocmd.Commander[InvalidateRetryMappingMessage] = (*InvalidateRetryMappingCommand)(nil)
)
