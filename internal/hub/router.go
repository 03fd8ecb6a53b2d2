package hub

import (
	"errors"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Omezi42/anokoro-tcg-backend/internal/frame"
	"github.com/Omezi42/anokoro-tcg-backend/internal/session"
	"github.com/Omezi42/anokoro-tcg-backend/internal/store"
)

const (
	minUsernameLen = 3
	maxUsernameLen = 15

	minRankingLimit = 10
	maxRankingLimit = 100
)

// dispatch is the Message Router's single entry point per inbound frame
// (spec §4.H): parse (already done by the caller), authenticate, invoke,
// reply. A handler panic is recovered and becomes a generic internal error
// event so a single bad frame can never take the process down.
func (h *Hub) dispatch(id session.ConnID, in frame.Inbound) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error("handler panic", zap.Uint64("conn_id", uint64(id)), zap.String("type", in.Type), zap.Any("panic", r))
			h.sessions.Send(id, frame.ErrorEvent(KindInternal, "internal error"))
		}
	}()

	s, ok := h.sessions.Get(id)
	if !ok {
		return // connection torn down mid-flight; nothing to reply to
	}

	requiresAuth := authRequired[in.Type]
	if requiresAuth && s.UserID == nil {
		h.sessions.Send(id, frame.Failure(in.Type+"_response", KindAuth, "not logged in"))
		return
	}

	h.log.Debug("frame received", zap.Uint64("conn_id", uint64(id)), zap.String("type", in.Type))

	switch in.Type {
	case "register":
		h.handleRegister(id, in)
	case "login":
		h.handleLogin(id, in)
	case "auto_login":
		h.handleAutoLogin(id, in)
	case "logout":
		h.handleLogout(id)
	case "change_username":
		h.handleChangeUsername(id, s, in)
	case "update_user_data":
		h.handleUpdateUserData(id, s, in)
	case "join_queue":
		h.handleJoinQueue(id, s)
	case "leave_queue":
		h.handleLeaveQueue(id, s)
	case "webrtc_signal":
		h.handleWebRTCSignal(id, s, in)
	case "report_result":
		h.handleReportResult(id, s, in)
	case "clear_match_info":
		h.handleClearMatchInfo(id, s)
	case "get_ranking":
		h.handleGetRanking(id, in)
	case "start_broadcast":
		h.handleStartBroadcast(id, s)
	case "stop_broadcast":
		h.handleStopBroadcast(id, in)
	case "join_spectate_room":
		h.handleJoinSpectateRoom(id, in)
	case "leave_spectate_room":
		h.handleLeaveSpectateRoom(id, in)
	case "spectate_signal":
		h.handleSpectateSignal(id, in)
	case "webrtc_signal_to_spectator":
		h.handleSignalToSpectator(id, in)
	case "webrtc_signal_to_broadcaster":
		h.handleSignalToBroadcaster(id, in)
	case "get_broadcast_list":
		h.notifier.PushBroadcastList()
	default:
		h.log.Debug("unrecognized frame type dropped", zap.String("type", in.Type))
	}
}

// authRequired enumerates which request types need a bound session, per
// spec §6's table. The three spectate signaling types are role-dependent
// instead: authorization comes from room membership (broadcaster or
// spectator, checked by internal/spectate against the connection id), not
// from being a logged-in user, since join_spectate_room itself needs no
// login either.
var authRequired = map[string]bool{
	"logout":           true,
	"change_username":  true,
	"update_user_data": true,
	"join_queue":       true,
	"leave_queue":      true,
	"webrtc_signal":    true,
	"report_result":    true,
	"clear_match_info": true,
	"start_broadcast":  true,
	"stop_broadcast":   true,
}

func (h *Hub) fail(id session.ConnID, replyType string, err error) {
	kind, message := classify(err)
	h.sessions.Send(id, frame.Failure(replyType, kind, message))
}

// --- account lifecycle ---

type registerFields struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *Hub) handleRegister(id session.ConnID, in frame.Inbound) {
	var f registerFields
	if err := in.Fields(&f); err != nil {
		h.sessions.Send(id, frame.Failure("register_response", KindValidation, "malformed fields"))
		return
	}
	if !validUsername(f.Username) {
		h.sessions.Send(id, frame.Failure("register_response", KindValidation, "username must be 3-15 characters"))
		return
	}
	if f.Password == "" {
		h.sessions.Send(id, frame.Failure("register_response", KindValidation, "password required"))
		return
	}

	u, err := h.store.InsertUser(f.Username, f.Password)
	if err != nil {
		h.fail(id, "register_response", err)
		return
	}

	h.log.Info("user registered", zap.String("user_id", u.ID.String()), zap.String("username", u.Username))
	h.sessions.Send(id, frame.Success("register_response", profileFields(u)))
}

type loginFields struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *Hub) handleLogin(id session.ConnID, in frame.Inbound) {
	var f loginFields
	if err := in.Fields(&f); err != nil {
		h.sessions.Send(id, frame.Failure("login_response", KindValidation, "malformed fields"))
		return
	}

	u, err := retryOnce(func() (*store.User, error) { return h.store.FetchUserByName(f.Username) })
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.sessions.Send(id, frame.Failure("login_response", KindAuth, "invalid credentials"))
			return
		}
		h.fail(id, "login_response", err)
		return
	}
	if !store.VerifyPassword(u, f.Password) {
		h.sessions.Send(id, frame.Failure("login_response", KindAuth, "invalid credentials"))
		return
	}

	h.bindAndReply(id, u, "login_response")
}

type autoLoginFields struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

func (h *Hub) handleAutoLogin(id session.ConnID, in frame.Inbound) {
	var f autoLoginFields
	if err := in.Fields(&f); err != nil {
		h.sessions.Send(id, frame.Failure("auto_login_response", KindValidation, "malformed fields"))
		return
	}
	userID, err := uuid.Parse(f.UserID)
	if err != nil {
		h.sessions.Send(id, frame.Failure("auto_login_response", KindValidation, "invalid userId"))
		return
	}

	u, err := retryOnce(func() (*store.User, error) { return h.store.FetchUser(userID) })
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.sessions.Send(id, frame.Failure("auto_login_response", KindAuth, "unknown session"))
			return
		}
		h.fail(id, "auto_login_response", err)
		return
	}
	if u.Username != f.Username {
		h.sessions.Send(id, frame.Failure("auto_login_response", KindAuth, "unknown session"))
		return
	}

	h.bindAndReply(id, u, "auto_login_response")
}

// bindAndReply performs the shared login/auto_login tail: bind the session
// (taking over any prior live connection for this user, per spec §4.B),
// stamp last-login, and reply with the profile.
func (h *Hub) bindAndReply(id session.ConnID, u *store.User, replyType string) {
	evicted, hadEvicted := h.sessions.Bind(id, u.ID)
	if hadEvicted {
		h.sessions.Send(evicted, frame.Event("logout_forced", frame.M{"reason": "session taken over"}))
		h.sessions.Close(evicted)
	}

	if err := h.store.TouchLastLogin(u.ID); err != nil {
		h.log.Warn("touch last login failed", zap.Error(err))
	}

	h.log.Info("user bound", zap.Uint64("conn_id", uint64(id)), zap.String("user_id", u.ID.String()))
	h.sessions.Send(id, frame.Success(replyType, profileFields(u)))
}

func (h *Hub) handleLogout(id session.ConnID) {
	if s, ok := h.sessions.Get(id); ok && s.BroadcastRoomID != "" {
		if err := h.rooms.StopBroadcast(id, s.BroadcastRoomID); err == nil {
			h.sessions.SetBroadcastRoom(id, "")
			h.notifier.PushBroadcastList()
		}
	}
	h.sessions.Unbind(id)
	h.sessions.Send(id, frame.Success("logout_response", nil))
}

type changeUsernameFields struct {
	NewUsername string `json:"newUsername"`
}

func (h *Hub) handleChangeUsername(id session.ConnID, s *session.Session, in frame.Inbound) {
	var f changeUsernameFields
	if err := in.Fields(&f); err != nil {
		h.sessions.Send(id, frame.Failure("change_username_response", KindValidation, "malformed fields"))
		return
	}
	if !validUsername(f.NewUsername) {
		h.sessions.Send(id, frame.Failure("change_username_response", KindValidation, "username must be 3-15 characters"))
		return
	}

	if err := h.store.PatchUser(*s.UserID, store.FieldUsername, f.NewUsername); err != nil {
		h.fail(id, "change_username_response", err)
		return
	}
	h.sessions.Send(id, frame.Success("change_username_response", frame.M{"username": f.NewUsername}))
}

type updateUserDataFields struct {
	Rate            *int      `json:"rate"`
	MatchHistory    *[]string `json:"matchHistory"`
	Memos           *string   `json:"memos"`
	BattleRecords   *string   `json:"battleRecords"`
	RegisteredDecks *string   `json:"registeredDecks"`
	CurrentMatchID  *string   `json:"currentMatchId"`
}

func (h *Hub) handleUpdateUserData(id session.ConnID, s *session.Session, in frame.Inbound) {
	var f updateUserDataFields
	if err := in.Fields(&f); err != nil {
		h.sessions.Send(id, frame.Failure("update_user_data_response", KindValidation, "malformed fields"))
		return
	}

	userID := *s.UserID
	patch := func(field store.PartialField, value interface{}) bool {
		if err := h.store.PatchUser(userID, field, value); err != nil {
			h.fail(id, "update_user_data_response", err)
			return false
		}
		return true
	}

	if f.Rate != nil {
		if !patch(store.FieldRate, *f.Rate) {
			return
		}
	}
	if f.MatchHistory != nil {
		if !patch(store.FieldMatchHistory, *f.MatchHistory) {
			return
		}
	}
	if f.Memos != nil {
		if !patch(store.FieldMemos, *f.Memos) {
			return
		}
	}
	if f.BattleRecords != nil {
		if !patch(store.FieldBattleRecords, *f.BattleRecords) {
			return
		}
	}
	if f.RegisteredDecks != nil {
		if !patch(store.FieldRegisteredDecks, *f.RegisteredDecks) {
			return
		}
	}
	if f.CurrentMatchID != nil {
		if *f.CurrentMatchID == "" {
			if !patch(store.FieldCurrentMatchID, nil) {
				return
			}
		} else {
			mid, err := uuid.Parse(*f.CurrentMatchID)
			if err != nil {
				h.sessions.Send(id, frame.Failure("update_user_data_response", KindValidation, "invalid currentMatchId"))
				return
			}
			if !patch(store.FieldCurrentMatchID, mid) {
				return
			}
		}
	}

	h.sessions.Send(id, frame.Success("update_user_data_response", nil))
}

// --- matchmaking ---

func (h *Hub) handleJoinQueue(id session.ConnID, s *session.Session) {
	h.queue.Enqueue(*s.UserID)
	h.sessions.Send(id, frame.Success("join_queue_response", nil))
	h.notifier.PushQueueCount()
	h.queue.TryPair(h.coordinator)
	h.notifier.PushQueueCount()
}

func (h *Hub) handleLeaveQueue(id session.ConnID, s *session.Session) {
	h.queue.Leave(*s.UserID)
	h.sessions.Send(id, frame.Success("leave_queue_response", nil))
	h.notifier.PushQueueCount()
}

type webrtcSignalFields struct {
	Signal interface{} `json:"signal"`
}

func (h *Hub) handleWebRTCSignal(id session.ConnID, s *session.Session, in frame.Inbound) {
	var f webrtcSignalFields
	if err := in.Fields(&f); err != nil {
		return
	}
	if err := h.relay.ToOpponent(id, *s.UserID, f.Signal); err != nil {
		h.sessions.Send(id, frame.ErrorEvent(KindState, "no opponent to signal"))
	}
}

type reportResultFields struct {
	MatchID string       `json:"matchId"`
	Result  store.Report `json:"result"`
}

func (h *Hub) handleReportResult(id session.ConnID, s *session.Session, in frame.Inbound) {
	var f reportResultFields
	if err := in.Fields(&f); err != nil {
		h.sessions.Send(id, frame.Failure("report_result_response", KindValidation, "malformed fields"))
		return
	}
	matchID, err := uuid.Parse(f.MatchID)
	if err != nil {
		h.sessions.Send(id, frame.Failure("report_result_response", KindValidation, "invalid matchId"))
		return
	}

	reply, err := h.coordinator.ReportResult(*s.UserID, matchID, f.Result)
	if err != nil {
		h.fail(id, "report_result_response", err)
		return
	}
	h.sessions.Send(id, reply)
	h.notifier.PushQueueCount()
}

func (h *Hub) handleClearMatchInfo(id session.ConnID, s *session.Session) {
	if err := h.coordinator.ClearMatchInfo(*s.UserID, id); err != nil {
		h.fail(id, "clear_match_info_response", err)
		return
	}
	h.sessions.Send(id, frame.Success("clear_match_info_response", nil))
}

func (h *Hub) handleGetRanking(id session.ConnID, in frame.Inbound) {
	limit := minRankingLimit
	var f struct {
		Limit int `json:"limit"`
	}
	if err := in.Fields(&f); err == nil && f.Limit >= minRankingLimit && f.Limit <= maxRankingLimit {
		limit = f.Limit
	}

	ranked, err := retryOnce(func() ([]store.RankedUser, error) { return h.store.TopByRating(limit) })
	if err != nil {
		h.fail(id, "get_ranking_response", err)
		return
	}

	out := make([]frame.M, 0, len(ranked))
	for _, r := range ranked {
		out = append(out, frame.M{"userId": r.ID.String(), "username": r.Username, "rate": r.Rate})
	}
	h.sessions.Send(id, frame.Success("get_ranking_response", frame.M{"ranking": out}))
}

// --- spectate ---

func (h *Hub) handleStartBroadcast(id session.ConnID, s *session.Session) {
	u, err := retryOnce(func() (*store.User, error) { return h.store.FetchUser(*s.UserID) })
	if err != nil {
		h.fail(id, "start_broadcast_response", err)
		return
	}

	token, err := h.rooms.StartBroadcast(id, u.Username)
	if err != nil {
		h.fail(id, "start_broadcast_response", err)
		return
	}
	h.sessions.SetBroadcastRoom(id, token)

	h.sessions.Send(id, frame.Success("start_broadcast_response", frame.M{"roomId": token}))
	h.notifier.PushBroadcastList()
}

type roomIDFields struct {
	RoomID string `json:"roomId"`
}

func (h *Hub) handleStopBroadcast(id session.ConnID, in frame.Inbound) {
	var f roomIDFields
	if err := in.Fields(&f); err != nil {
		h.sessions.Send(id, frame.Failure("stop_broadcast_response", KindValidation, "malformed fields"))
		return
	}
	if err := h.rooms.StopBroadcast(id, f.RoomID); err != nil {
		h.fail(id, "stop_broadcast_response", err)
		return
	}
	h.sessions.SetBroadcastRoom(id, "")
	h.sessions.Send(id, frame.Success("stop_broadcast_response", nil))
	h.notifier.PushBroadcastList()
}

func (h *Hub) handleJoinSpectateRoom(id session.ConnID, in frame.Inbound) {
	var f roomIDFields
	if err := in.Fields(&f); err != nil {
		h.sessions.Send(id, frame.Failure("join_spectate_room_response", KindValidation, "malformed fields"))
		return
	}
	if err := h.rooms.Join(f.RoomID, id); err != nil {
		h.fail(id, "join_spectate_room_response", err)
		return
	}
	h.sessions.Send(id, frame.Success("join_spectate_room_response", frame.M{"roomId": f.RoomID}))
}

func (h *Hub) handleLeaveSpectateRoom(id session.ConnID, in frame.Inbound) {
	var f roomIDFields
	if err := in.Fields(&f); err != nil {
		h.sessions.Send(id, frame.Failure("leave_spectate_room_response", KindValidation, "malformed fields"))
		return
	}
	if err := h.rooms.Leave(f.RoomID, id); err != nil {
		h.fail(id, "leave_spectate_room_response", err)
		return
	}
	h.sessions.Send(id, frame.Success("leave_spectate_room_response", nil))
}

type spectateSignalFields struct {
	RoomID string  `json:"roomId"`
	Signal frame.M `json:"signal"`
}

func (h *Hub) handleSpectateSignal(id session.ConnID, in frame.Inbound) {
	var f spectateSignalFields
	if err := in.Fields(&f); err != nil {
		return
	}
	if err := h.rooms.BroadcastSignal(id, f.RoomID, f.Signal); err != nil {
		h.sessions.Send(id, frame.ErrorEvent(classifyKindOnly(err), "spectate_signal failed"))
	}
}

type signalToSpectatorFields struct {
	RoomID      string  `json:"roomId"`
	SpectatorID uint64  `json:"spectatorId"`
	Signal      frame.M `json:"signal"`
}

func (h *Hub) handleSignalToSpectator(id session.ConnID, in frame.Inbound) {
	var f signalToSpectatorFields
	if err := in.Fields(&f); err != nil {
		return
	}
	if err := h.rooms.ToSpectator(id, f.RoomID, session.ConnID(f.SpectatorID), f.Signal); err != nil {
		h.sessions.Send(id, frame.ErrorEvent(classifyKindOnly(err), "webrtc_signal_to_spectator failed"))
	}
}

type signalToBroadcasterFields struct {
	RoomID string  `json:"roomId"`
	Signal frame.M `json:"signal"`
}

func (h *Hub) handleSignalToBroadcaster(id session.ConnID, in frame.Inbound) {
	var f signalToBroadcasterFields
	if err := in.Fields(&f); err != nil {
		return
	}
	if err := h.rooms.ToBroadcaster(f.RoomID, id, f.Signal); err != nil {
		h.sessions.Send(id, frame.ErrorEvent(classifyKindOnly(err), "webrtc_signal_to_broadcaster failed"))
	}
}

func classifyKindOnly(err error) string {
	kind, _ := classify(err)
	return kind
}

// --- shared helpers ---

func validUsername(name string) bool {
	n := utf8.RuneCountInString(name)
	return n >= minUsernameLen && n <= maxUsernameLen
}

func profileFields(u *store.User) frame.M {
	var currentMatchID interface{}
	if u.CurrentMatchID != nil {
		currentMatchID = u.CurrentMatchID.String()
	}
	return frame.M{
		"userId":          u.ID.String(),
		"username":        u.Username,
		"rate":            u.Rate,
		"matchHistory":    u.MatchHistory,
		"memos":           u.Memos,
		"battleRecords":   u.BattleRecords,
		"registeredDecks": u.RegisteredDecks,
		"currentMatchId":  currentMatchID,
	}
}
