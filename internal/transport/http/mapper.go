package http

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/ieum-labs/roomsync/internal/core"
	"github.com/ieum-labs/roomsync/internal/proto"
)

// handleInbound validates a wire event against its fixed schema and invokes
// the matching core operation. It returns a protocol error for the client,
// or a transport error that tears the connection down.
func (h *WSHandler) handleInbound(ctx context.Context, client *core.Conn, inbound proto.Inbound) (*proto.Error, error) {
	switch inbound.Type {
	case proto.InboundTypeJoinRoom:
		var join proto.JoinRoomData
		if err := json.Unmarshal(inbound.Data, &join); err != nil || join.RoomID == 0 {
			return &proto.Error{Code: core.ErrCodeBadRequest, Msg: "roomId is required"}, nil
		}
		h.service.JoinRoom(client, join.RoomID)
		return nil, nil

	case proto.InboundTypeLeaveRoom:
		var leave proto.JoinRoomData
		if err := json.Unmarshal(inbound.Data, &leave); err != nil || leave.RoomID == 0 {
			return &proto.Error{Code: core.ErrCodeBadRequest, Msg: "roomId is required"}, nil
		}
		h.service.LeaveRoom(client, leave.RoomID)
		return nil, nil

	case proto.InboundTypeSendMessage:
		var send proto.SendMessageData
		if err := json.Unmarshal(inbound.Data, &send); err != nil || send.RoomID == 0 {
			return &proto.Error{Code: core.ErrCodeBadRequest, Msg: "roomId is required"}, nil
		}
		_, err := h.service.SendMessage(ctx, send.RoomID, client.UserID, send.Text, send.Media)
		return mapCoreError(err)

	case proto.InboundTypeMarkRead:
		var mark proto.MarkReadData
		if err := json.Unmarshal(inbound.Data, &mark); err != nil || mark.RoomID == 0 || mark.MessageID == "" {
			return &proto.Error{Code: core.ErrCodeBadRequest, Msg: "roomId and messageId are required"}, nil
		}
		_, err := h.service.MarkRead(ctx, mark.RoomID, client.UserID, mark.MessageID, client)
		return mapCoreError(err)

	case proto.InboundTypeTyping:
		var typing proto.TypingData
		if err := json.Unmarshal(inbound.Data, &typing); err != nil || typing.RoomID == 0 {
			return &proto.Error{Code: core.ErrCodeBadRequest, Msg: "roomId is required"}, nil
		}
		h.service.Typing(client, typing.RoomID, typing.IsTyping)
		return nil, nil

	default:
		return &proto.Error{Code: "invalid_message", Msg: "unknown message type"}, nil
	}
}

// mapCoreError converts domain errors to protocol errors; anything else is
// a transport-level failure.
func mapCoreError(err error) (*proto.Error, error) {
	if err == nil {
		return nil, nil
	}
	switch {
	case errors.Is(err, core.ErrUnknownRoom):
		return &proto.Error{Code: core.ErrCodeUnknownRoom, Msg: "unknown room"}, nil
	case errors.Is(err, core.ErrUnknownMessage):
		return &proto.Error{Code: core.ErrCodeUnknownMessage, Msg: "unknown message"}, nil
	case errors.Is(err, core.ErrNotParticipant):
		return &proto.Error{Code: core.ErrCodeNotParticipant, Msg: "not a room participant"}, nil
	default:
		var coreErr *core.CoreError
		if errors.As(err, &coreErr) {
			return &proto.Error{Code: coreErr.Code, Msg: coreErr.Message}, nil
		}
		return nil, err
	}
}

func outboundFromEvent(event *core.Event) proto.Outbound {
	switch event.Kind {
	case core.EventNewMessage:
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.EventNewMessage,
			Data:  proto.MessageFromStore(event.Message),
		}
	case core.EventMessagesRead:
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.EventMessagesRead,
			Data: proto.MessagesReadData{
				RoomID:    event.Read.RoomID,
				MessageID: event.Read.MessageID,
				UserID:    event.Read.UserID,
				ReadAt:    event.Read.ReadAt.UTC().Format(time.RFC3339Nano),
			},
		}
	case core.EventRoomUpdated:
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.EventRoomUpdated,
			Data: proto.RoomUpdatedData{
				RoomID:        event.RoomUpdate.RoomID,
				LastMessageID: event.RoomUpdate.LastMessageID,
				LastMessageAt: event.RoomUpdate.LastMessageAt.UTC().Format(time.RFC3339Nano),
				UnreadCount:   event.RoomUpdate.UnreadCount,
			},
		}
	case core.EventUserJoined:
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.EventUserJoined,
			Data: proto.PresenceData{
				RoomID:   event.RoomID,
				UserID:   event.UserID,
				UserName: event.UserName,
			},
		}
	case core.EventUserLeft:
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.EventUserLeft,
			Data: proto.PresenceData{
				RoomID:   event.RoomID,
				UserID:   event.UserID,
				UserName: event.UserName,
			},
		}
	case core.EventUserTyping:
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.EventUserTyping,
			Data: proto.UserTypingData{
				RoomID:   event.Typing.RoomID,
				UserID:   event.Typing.UserID,
				UserName: event.Typing.UserName,
				IsTyping: event.Typing.IsTyping,
			},
		}
	case core.EventError:
		if event.Error == nil {
			return proto.Outbound{Type: proto.OutboundTypeError, Error: &proto.Error{Code: "unknown", Msg: "unknown error"}}
		}
		return proto.Outbound{
			Type:  proto.OutboundTypeError,
			Error: &proto.Error{Code: event.Error.Code, Msg: event.Error.Message},
		}
	default:
		return proto.Outbound{Type: proto.OutboundTypeEvent}
	}
}
