// Package native is the sole cgo boundary onto libsrt. Everything above it
// is pure Go.
package native

// Binding is the seam between the cgo-backed srt library facade and its
// consumers. It is implemented by CGO (binding.go) and by Fake (fake.go),
// so the layers above native/ can be exercised without libsrt present.
type Binding interface {
	CreateSocket(senderFlag bool) (SocketFd, error)
	Bind(fd SocketFd, addr string, port int) error
	Listen(fd SocketFd, backlog int) error
	Connect(fd SocketFd, host string, port int) error
	Accept(fd SocketFd) (SocketFd, error)
	Close(fd SocketFd) error
	Read(fd SocketFd, maxBytes int) ([]byte, error)
	Write(fd SocketFd, buf []byte) (int, error)
	SetSockopt(fd SocketFd, opt Option, value interface{}) error
	GetSockopt(fd SocketFd, opt Option) (interface{}, error)
	GetSockState(fd SocketFd) (SockStatus, error)
	EpollCreate() (EpollID, error)
	EpollAddUsock(epid EpollID, fd SocketFd, mask EpollFlag) error
	EpollUwait(epid EpollID, timeoutMs int64) ([]Event, error)
	SetLogLevel(level LogLevel)
	Stats(fd SocketFd, clear bool) (Stats, error)
}

// SocketFd identifies an SRT socket within the native library. Not an OS
// file descriptor.
type SocketFd int32

// EpollID identifies a readiness set created by EpollCreate.
type EpollID int32

// InvalidSocket and APIError mirror libsrt's sentinel return values.
const (
	InvalidSocket = SocketFd(-1)
	APIError      = -1
)

// SockStatus enumerates SRT socket states, as reported by GetSockState.
type SockStatus int32

const (
	StatusInit       SockStatus = 1
	StatusOpened     SockStatus = 2
	StatusListening  SockStatus = 3
	StatusConnecting SockStatus = 4
	StatusConnected  SockStatus = 5
	StatusBroken     SockStatus = 6
	StatusClosing    SockStatus = 7
	StatusClosed     SockStatus = 8
	StatusNonexist   SockStatus = 9
)

func (s SockStatus) String() string {
	switch s {
	case StatusInit:
		return "init"
	case StatusOpened:
		return "opened"
	case StatusListening:
		return "listening"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusBroken:
		return "broken"
	case StatusClosing:
		return "closing"
	case StatusClosed:
		return "closed"
	case StatusNonexist:
		return "nonexist"
	default:
		return "unknown"
	}
}

// Dead reports whether a status is terminal for a connected socket, per the
// event-loop dispatch rule: broken/nonexist/closed all mean "tear the
// connection down".
func (s SockStatus) Dead() bool {
	return s == StatusBroken || s == StatusNonexist || s == StatusClosed
}

// Option identifies an SRT socket option (SRTO_*).
type Option int32

const (
	OptionMss           Option = 0
	OptionSndsyn        Option = 1
	OptionRcvsyn        Option = 2
	OptionIsn           Option = 3
	OptionFc            Option = 4
	OptionSndbuf        Option = 5
	OptionRcvbuf        Option = 6
	OptionLinger        Option = 7
	OptionUDPSndbuf     Option = 8
	OptionUDPRcvbuf     Option = 9
	OptionRendezvous    Option = 12
	OptionSndtimeo      Option = 13
	OptionRcvtimeo      Option = 14
	OptionReuseaddr     Option = 15
	OptionMaxbw         Option = 16
	OptionState         Option = 17
	OptionEvent         Option = 18
	OptionSnddata       Option = 19
	OptionRcvdata       Option = 20
	OptionSender        Option = 21
	OptionTsbpdmode     Option = 22
	OptionLatency       Option = 23
	OptionTsbpddelay    Option = 23
	OptionInputbw       Option = 24
	OptionOheadbw       Option = 25
	OptionPassphrase    Option = 26
	OptionPbkeylen      Option = 27
	OptionKmstate       Option = 28
	OptionIpttl         Option = 29
	OptionIptos         Option = 30
	OptionTlpktdrop     Option = 31
	OptionSnddropdelay  Option = 32
	OptionNakreport     Option = 33
	OptionVersion       Option = 34
	OptionPeerversion   Option = 35
	OptionConntimeo     Option = 36
	OptionSndkmstate    Option = 38
	OptionRcvkmstate    Option = 39
	OptionLossmaxttl    Option = 40
	OptionRcvlatency    Option = 41
	OptionPeerlatency   Option = 42
	OptionMinversion    Option = 43
	OptionStreamid      Option = 46
	OptionCongestion    Option = 47
	OptionMessageapi    Option = 48
	OptionPayloadsize   Option = 49
	OptionTranstype     Option = 50
	OptionKmrefreshrate Option = 51
	OptionKmpreannounce Option = 52
	OptionStrictenc     Option = 53
	OptionIpv6Only      Option = 54
	OptionPeeridletimeo Option = 55
)

// TransType selects SRT's live vs file transmission mode (SRTO_TRANSTYPE).
type TransType int32

const (
	TypeLive    TransType = 0
	TypeFile    TransType = 1
	TypeInvalid TransType = 2
)

// LogLevel is the native syslog-style severity scale, 0 (most severe) to 7.
type LogLevel int32

const (
	LogEmerg   LogLevel = 0
	LogAlert   LogLevel = 1
	LogFatal   LogLevel = 2
	LogError   LogLevel = 3
	LogWarning LogLevel = 4
	LogNote    LogLevel = 5
	LogInfo    LogLevel = 6
	LogDebug   LogLevel = 7
)

// EpollFlag is a bitmask of readiness conditions (SRT_EPOLL_*).
type EpollFlag int32

const (
	EpollIn  EpollFlag = 1
	EpollOut EpollFlag = 4
	EpollErr EpollFlag = 8
)

// Event is a single readiness notification returned by EpollUwait.
type Event struct {
	Fd     SocketFd
	Events EpollFlag
}

// Stats is a pass-through snapshot of SRT's performance-monitoring block.
// The CORE does not interpret these fields; it only carries them from
// srt_bstats to the caller.
type Stats struct {
	PktSentTotal     int64
	PktRecvTotal     int64
	PktSndLossTotal  int64
	PktRcvLossTotal  int64
	ByteSentTotal    int64
	ByteRecvTotal    int64
	MsRTT            float64
	MbpsSendRate     float64
	MbpsRecvRate     float64
}
