// SPDX-License-Identifier: MIT

package engine

// Cmd identifies a command, either a top-level request verb or an AT
// sub-command within a request's graph. The dialect maps generic verbs to
// its own AT commands (SocketOpen is CIPSTART on SIM800 and QIOPEN on BG95).
type Cmd uint8

const (
	// CmdIdle means no command is scheduled.
	CmdIdle Cmd = iota

	// Top-level request verbs.
	CmdReset
	CmdNetworkAttach
	CmdNetworkDetach
	CmdSocketOpen
	CmdSocketSend
	CmdSocketClose
	CmdSMSSend
	CmdSMSList
	CmdSMSDeleteAll
	CmdCallDial
	CmdCallAnswer
	CmdCallHangup
	CmdUSSD
	CmdRaw

	// Shared AT sub-commands.
	CmdATZ
	CmdCPINGet
	CmdIPR
	CmdCLCCSet
	CmdCGATTSet0
	CmdCGATTSet1
	CmdCGACTSet0
	CmdCGACTSet1
	CmdCREGGet
	CmdCGREGGet
	CmdCOPSGet
	CmdCMGS
	CmdCMGL
	CmdCMGDA
	CmdATD
	CmdATA
	CmdATH
	CmdCUSD

	// SIM800 AT sub-commands.
	CmdCIPSHUT
	CmdCIPMUX
	CmdCIPRXGET
	CmdCIPHEAD
	CmdCIPSRIP
	CmdCSTT
	CmdCIICR
	CmdCIFSR
	CmdCIPSSL
	CmdCIPSTART
	CmdCIPSTATUS
	CmdCIPSEND
	CmdCIPCLOSE

	// BG95 AT sub-commands.
	CmdQCFGNwScanMode
	CmdQCFGNwScanSeq
	CmdQCFGBand
	CmdQICFGRetrans
	CmdATS10
	CmdQNWINFO
	CmdQICSGP
	CmdQIACTSet
	CmdQIACTGet
	CmdQISTATE
	CmdQIOPEN
	CmdQISEND
	CmdQICLOSE
)
