package native

/*
#cgo LDFLAGS: -lsrt
#include <srt/srt.h>

int srtio_sendmsg2(SRTSOCKET u, const char *buf, int len, int *srterror, int *syserror)
{
	int ret = srt_sendmsg2(u, buf, len, NULL);
	if (ret < 0) {
		*srterror = srt_getlasterror(syserror);
	}
	return ret;
}

int srtio_recvmsg(SRTSOCKET u, char *buf, int len, int *srterror, int *syserror)
{
	int ret = srt_recvmsg(u, buf, len);
	if (ret < 0) {
		*srterror = srt_getlasterror(syserror);
	}
	return ret;
}
*/
import "C"

import (
	"net"
	"strconv"
	"unsafe"

	"golang.org/x/sys/unix"
)

// CGO is the real Binding, backed by libsrt through cgo. Every method is
// synchronous and blocking, matching the native API one call at a time;
// callers that need concurrency serialize through the Task Runner.
type CGO struct{}

var _ Binding = CGO{}

func lastError() error {
	var sys C.int
	code := C.srt_getlasterror(&sys)
	if code == C.SRT_SUCCESS {
		return nil
	}
	msg := C.GoString(C.srt_getlasterror_str(code))
	return &Error{Code: int(code), Sys: unix.Errno(sys), Msg: msg}
}

// Error wraps an SRT-reported error descriptor retrieved via
// srt_getlasterror / srt_getlasterror_str.
type Error struct {
	Code int
	Sys  unix.Errno
	Msg  string
}

func (e *Error) Error() string {
	return "srt: " + e.Msg + " (code " + strconv.Itoa(e.Code) + ")"
}

func (CGO) CreateSocket(senderFlag bool) (SocketFd, error) {
	fd := C.srt_create_socket()
	if fd == C.SRTSOCKET(APIError) {
		return InvalidSocket, lastError()
	}
	sender := C.int(0)
	if senderFlag {
		sender = 1
	}
	_ = C.srt_setsockopt(fd, 0, C.SRTO_SENDER, unsafe.Pointer(&sender), C.int(unsafe.Sizeof(sender)))
	return SocketFd(fd), nil
}

func (CGO) Bind(fd SocketFd, addr string, port int) error {
	sa, saLen, err := resolveSockaddr(addr, port)
	if err != nil {
		return err
	}
	ret := C.srt_bind(C.SRTSOCKET(fd), (*C.struct_sockaddr)(unsafe.Pointer(&sa[0])), C.int(saLen))
	if ret == C.int(APIError) {
		return lastError()
	}
	return nil
}

func (CGO) Listen(fd SocketFd, backlog int) error {
	ret := C.srt_listen(C.SRTSOCKET(fd), C.int(backlog))
	if ret == C.int(APIError) {
		return lastError()
	}
	return nil
}

func (CGO) Connect(fd SocketFd, host string, port int) error {
	sa, saLen, err := resolveSockaddr(host, port)
	if err != nil {
		return err
	}
	ret := C.srt_connect(C.SRTSOCKET(fd), (*C.struct_sockaddr)(unsafe.Pointer(&sa[0])), C.int(saLen))
	if ret == C.int(APIError) {
		return lastError()
	}
	return nil
}

func (CGO) Accept(fd SocketFd) (SocketFd, error) {
	newFd := C.srt_accept(C.SRTSOCKET(fd), nil, nil)
	if newFd == C.SRTSOCKET(APIError) {
		return InvalidSocket, lastError()
	}
	return SocketFd(newFd), nil
}

func (CGO) Close(fd SocketFd) error {
	ret := C.srt_close(C.SRTSOCKET(fd))
	if ret == C.int(APIError) {
		return lastError()
	}
	return nil
}

func (CGO) Read(fd SocketFd, maxBytes int) ([]byte, error) {
	if maxBytes <= 0 {
		return nil, nil
	}
	buf := make([]byte, maxBytes)
	srterr := C.int(0)
	syserr := C.int(0)
	n := C.srtio_recvmsg(C.SRTSOCKET(fd), (*C.char)(unsafe.Pointer(&buf[0])), C.int(maxBytes), &srterr, &syserr)
	if n < 0 {
		return nil, &Error{Code: int(srterr), Sys: unix.Errno(syserr), Msg: "recvmsg failed"}
	}
	return buf[:n], nil
}

func (CGO) Write(fd SocketFd, buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	srterr := C.int(0)
	syserr := C.int(0)
	n := C.srtio_sendmsg2(C.SRTSOCKET(fd), (*C.char)(unsafe.Pointer(&buf[0])), C.int(len(buf)), &srterr, &syserr)
	if n < 0 {
		return 0, &Error{Code: int(srterr), Sys: unix.Errno(syserr), Msg: "sendmsg2 failed"}
	}
	return int(n), nil
}

func (CGO) SetSockopt(fd SocketFd, opt Option, value interface{}) error {
	var ret C.int
	switch v := value.(type) {
	case bool:
		cv := C.int(0)
		if v {
			cv = 1
		}
		ret = C.srt_setsockopt(C.SRTSOCKET(fd), 0, C.SRT_SOCKOPT(opt), unsafe.Pointer(&cv), C.int(unsafe.Sizeof(cv)))
	case int:
		cv := C.int(v)
		ret = C.srt_setsockopt(C.SRTSOCKET(fd), 0, C.SRT_SOCKOPT(opt), unsafe.Pointer(&cv), C.int(unsafe.Sizeof(cv)))
	case int64:
		cv := C.int64_t(v)
		ret = C.srt_setsockopt(C.SRTSOCKET(fd), 0, C.SRT_SOCKOPT(opt), unsafe.Pointer(&cv), C.int(unsafe.Sizeof(cv)))
	case string:
		cs := C.CString(v)
		defer C.free(unsafe.Pointer(cs))
		ret = C.srt_setsockopt(C.SRTSOCKET(fd), 0, C.SRT_SOCKOPT(opt), unsafe.Pointer(cs), C.int(len(v)))
	default:
		return &Error{Msg: "unsupported option value type"}
	}
	if ret == C.int(APIError) {
		return lastError()
	}
	return nil
}

func (CGO) GetSockopt(fd SocketFd, opt Option) (interface{}, error) {
	var cv C.int64_t
	size := C.int(unsafe.Sizeof(cv))
	ret := C.srt_getsockopt(C.SRTSOCKET(fd), 0, C.SRT_SOCKOPT(opt), unsafe.Pointer(&cv), &size)
	if ret == C.int(APIError) {
		return nil, lastError()
	}
	return int64(cv), nil
}

func (CGO) GetSockState(fd SocketFd) (SockStatus, error) {
	state := C.srt_getsockstate(C.SRTSOCKET(fd))
	return SockStatus(state), nil
}

func (CGO) EpollCreate() (EpollID, error) {
	eid := C.srt_epoll_create()
	if eid == C.int(APIError) {
		return EpollID(APIError), lastError()
	}
	return EpollID(eid), nil
}

func (CGO) EpollAddUsock(epid EpollID, fd SocketFd, mask EpollFlag) error {
	events := C.int(mask)
	ret := C.srt_epoll_add_usock(C.int(epid), C.SRTSOCKET(fd), &events)
	if ret == C.int(APIError) {
		return lastError()
	}
	return nil
}

func (CGO) EpollUwait(epid EpollID, timeoutMs int64) ([]Event, error) {
	const maxBatch = 512
	var cevents [maxBatch]C.SRT_EPOLL_EVENT
	n := C.srt_epoll_uwait(C.int(epid), &cevents[0], C.int(maxBatch), C.int64_t(timeoutMs))
	if n == C.int(APIError) {
		return nil, lastError()
	}
	events := make([]Event, int(n))
	for i := 0; i < int(n); i++ {
		events[i] = Event{
			Fd:     SocketFd(cevents[i].fd),
			Events: EpollFlag(cevents[i].events),
		}
	}
	return events, nil
}

func (CGO) SetLogLevel(level LogLevel) {
	C.srt_setloglevel(C.int(level))
}

func (CGO) Stats(fd SocketFd, clear bool) (Stats, error) {
	var perf C.SRT_TRACEBSTATS
	clr := C.int(0)
	if clear {
		clr = 1
	}
	ret := C.srt_bstats(C.SRTSOCKET(fd), &perf, clr)
	if ret == C.int(APIError) {
		return Stats{}, lastError()
	}
	return Stats{
		PktSentTotal:    int64(perf.pktSentTotal),
		PktRecvTotal:    int64(perf.pktRecvTotal),
		PktSndLossTotal: int64(perf.pktSndLossTotal),
		PktRcvLossTotal: int64(perf.pktRcvLossTotal),
		ByteSentTotal:   int64(perf.byteSentTotal),
		ByteRecvTotal:   int64(perf.byteRecvTotal),
		MsRTT:           float64(perf.msRTT),
		MbpsSendRate:    float64(perf.mbpsSendRate),
		MbpsRecvRate:    float64(perf.mbpsRecvRate),
	}, nil
}

func resolveSockaddr(host string, port int) ([]byte, int, error) {
	ip := net.ParseIP(host)
	if ip == nil {
		addrs, err := net.LookupIP(host)
		if err != nil || len(addrs) == 0 {
			return nil, 0, &Error{Msg: "cannot resolve " + host}
		}
		ip = addrs[0]
	}
	if v4 := ip.To4(); v4 != nil {
		var sa unix.RawSockaddrInet4
		sa.Family = unix.AF_INET
		sa.Port = htons(uint16(port))
		copy(sa.Addr[:], v4)
		return rawToBytes(unsafe.Pointer(&sa), int(unsafe.Sizeof(sa))), int(unsafe.Sizeof(sa)), nil
	}
	var sa unix.RawSockaddrInet6
	sa.Family = unix.AF_INET6
	sa.Port = htons(uint16(port))
	copy(sa.Addr[:], ip.To16())
	return rawToBytes(unsafe.Pointer(&sa), int(unsafe.Sizeof(sa))), int(unsafe.Sizeof(sa)), nil
}

func htons(p uint16) uint16 {
	return (p << 8) | (p >> 8)
}

func rawToBytes(p unsafe.Pointer, n int) []byte {
	b := make([]byte, n)
	src := unsafe.Slice((*byte)(p), n)
	copy(b, src)
	return b
}
