/*
Package logging implements application log instrumentation and the
access log of the gateway.

# Application Log

The application log uses the logrus package:

https://github.com/sirupsen/logrus

To send messages to the application log, import logrus and use its
methods. Example:

	import log "github.com/sirupsen/logrus"

	func doSomething() {
	    log.Errorf("nothing to do")
	}

Components that receive their logger as a dependency use the Logger
interface, implemented by DefaultLog.

During startup initialization, it is possible to redirect the log output
from the default /dev/stderr to another file, to set the level, to switch
to JSON entries, and to set a common prefix for each log entry. Setting
the prefix may be a good idea when the access log is enabled and its
output is the same as the one of the application log, to make it easier
to split the output for diagnostics.

# Access Log

The access log prints HTTP access information in the Apache combined
access log format, extended with the duration, the requested host, the
API, the endpoint, the request id and the error key of the failed
requests. To output entries, use LogAccess. The request handlers of the
APIs call it once for every request.

The status and the size of the responses are captured by wrapping the
response writer with NewLoggingWriter.
*/
package logging
