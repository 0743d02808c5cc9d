package cmd

const DESCRIPTION = `
warpreq is an HTTP request manager with a bounded worker, retries
with jittered backoff, Retry-After and rate-limit handling, and
failover across mirror domains. It journals every attempt so you
can look back at what ran and how it ended.
`

const (
	GetDescription = `The get command sends a single request through the request
manager and prints the response body. Retryable failures are
retried according to the configured policy, which the flags can
override for this request.

Example:
        warpreq get https://domain.com/api/status
                    OR
        warpreq get -X POST -d '{"k":1}' -H 'Content-Type: application/json' https://domain.com/api

`
	BenchDescription = `The bench command fires a batch of identical requests
through the request manager with a concurrency cap and reports
latency, status codes and throughput once all of them finish.

Example:
        warpreq bench -n 200 -c 16 https://domain.com/api/status

`
	HistoryDescription = `The history command lists the most recent request attempts
recorded in the completion journal. Pass a request id to show
every attempt of that request.

Example:
        warpreq history
                    OR
        warpreq history <request id>

`
	FlushDescription = `The flush command deletes the request history of the
current user.

Example:
        warpreq flush

`
	ConfigDescription = `The config command prints the effective configuration as
YAML. With "init" it writes the defaults to the user config file.

Example:
        warpreq config
                    OR
        warpreq config init

`
)
