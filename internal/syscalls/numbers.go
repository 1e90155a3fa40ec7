// Package syscalls implements the syscall dispatcher: the single public
// entry point that routes a (cage id, syscall number, six argument/owner-cage
// pairs) tuple to a host-kernel operation and returns a negated errno or a
// non-negative result, mirroring how src/syscall/syscall_cosmo.go funnels
// every Go syscall through one RawSyscall6/Syscall6 choke point for the
// cosmo target.
package syscalls

// Syscall numbers, reproduced in full from the authoritative source syscall
// table rather than just a representative handful. Numbers are dense within
// their subranges; gaps are real gaps in the source table, not omissions.
const (
	AccessSyscall   = 2
	UnlinkSyscall   = 4
	LinkSyscall     = 5
	RenameSyscall   = 6
	XstatSyscall    = 9
	OpenSyscall     = 10
	CloseSyscall    = 11
	ReadSyscall     = 12
	WriteSyscall    = 13
	LseekSyscall    = 14
	IoctlSyscall    = 15
	TruncateSyscall = 16
	FxstatSyscall   = 17
	FtruncateSyscall = 18
	FstatfsSyscall  = 19

	MmapSyscall     = 21
	MunmapSyscall   = 22
	GetdentsSyscall = 23
	DupSyscall      = 24

	StatfsSyscall = 26
	FcntlSyscall  = 28

	GetppidSyscall = 29
	ExitSyscall    = 30
	GetpidSyscall  = 31

	BindSyscall     = 33
	SendSyscall     = 34
	SendtoSyscall   = 35
	RecvSyscall     = 36
	RecvfromSyscall = 37
	ConnectSyscall  = 38
	ListenSyscall   = 39
	AcceptSyscall   = 40

	GetsockoptSyscall = 43
	SetsockoptSyscall = 44
	ShutdownSyscall   = 45
	SelectSyscall     = 46
	GetcwdSyscall     = 47
	PollSyscall       = 48
	SocketpairSyscall = 49

	GetuidSyscall  = 50
	GeteuidSyscall = 51
	GetgidSyscall  = 52
	GetegidSyscall = 53
	FlockSyscall   = 54

	EpollCreateSyscall = 56
	EpollCtlSyscall    = 57
	EpollWaitSyscall   = 58

	ShmgetSyscall = 62
	ShmatSyscall  = 63
	ShmdtSyscall  = 64
	ShmctlSyscall = 65

	PipeSyscall = 66

	ForkSyscall = 68
	ExecSyscall = 69

	MutexCreateSyscall    = 70
	MutexDestroySyscall   = 71
	MutexLockSyscall      = 72
	MutexTrylockSyscall   = 73
	MutexUnlockSyscall    = 74
	CondCreateSyscall     = 75
	CondDestroySyscall    = 76
	CondWaitSyscall       = 77
	CondBroadcastSyscall  = 78
	CondSignalSyscall     = 79
	CondTimedwaitSyscall  = 80

	SemInitSyscall      = 91
	SemWaitSyscall      = 92
	SemTrywaitSyscall   = 93
	SemTimedwaitSyscall = 94
	SemPostSyscall      = 95
	SemDestroySyscall   = 96
	SemGetvalueSyscall  = 97
	FutexSyscall        = 98

	GethostnameSyscall = 125
	PreadSyscall       = 126
	PwriteSyscall      = 127

	ChdirSyscall = 130
	MkdirSyscall = 131
	RmdirSyscall = 132
	ChmodSyscall = 133
	FchmodSyscall = 134

	SocketSyscall = 136

	GetsocknameSyscall = 144
	GetpeernameSyscall = 145
	GetifaddrsSyscall  = 146

	SigactionSyscall   = 147
	KillSyscall        = 148
	SigprocmaskSyscall = 149
	SetitimerSyscall   = 150

	FchdirSyscall       = 161
	FsyncSyscall        = 162
	FdatasyncSyscall    = 163
	SyncFileRangeSyscall = 164

	WritevSyscall = 170

	CloneSyscall   = 171
	WaitSyscall    = 172
	WaitpidSyscall = 173

	BrkSyscall  = 175
	SbrkSyscall = 176
)

// ArgSentinel is the agreed-on value an unused argument slot must carry.
// Handlers reject any deviation with ErrFault.
const ArgSentinel uint64 = 0xfffffffffffffff0
