package network

const (
	MsgTypeHeartbeat = 1

	// 房间
	MsgTypeJoinRoom   = 101
	MsgTypeLeaveRoom  = 102
	MsgTypeCreateRoom = 103
	MsgTypeRename     = 104

	// 回合控制
	MsgTypePlayerAction = 201
	MsgTypeStartRound   = 202
	MsgTypeRestartRound = 203
	MsgTypeEndGame      = 204

	// 主机通知
	MsgTypeWelcome       = 301
	MsgTypeRoster        = 302
	MsgTypePhase         = 303
	MsgTypeRolePayload   = 304
	MsgTypeVotingStarted = 305
	MsgTypeVotingTick    = 306
	MsgTypeVoteResolved  = 307
	MsgTypeReleased      = 308
	MsgTypeError         = 309
)
