package http

import (
	"encoding/json"

	"github.com/greenroom-app/greenroom-server/internal/core"
	"github.com/greenroom-app/greenroom-server/internal/proto"
	"github.com/greenroom-app/greenroom-server/internal/replica"
	"github.com/greenroom-app/greenroom-server/internal/session"
)

func inboundToCommand(inbound proto.Inbound) (*session.Command, *proto.Error, error) {
	switch inbound.Type {
	case proto.InboundTypeSelectCharacter:
		var data proto.SelectCharacterData
		if err := json.Unmarshal(inbound.Data, &data); err != nil {
			return nil, nil, err
		}
		return &session.Command{
			Kind:        session.CommandSelectCharacter,
			CharacterID: data.CharacterID,
		}, nil, nil
	case proto.InboundTypeToggleReady:
		return &session.Command{Kind: session.CommandToggleReady}, nil, nil
	case proto.InboundTypeStartMatch:
		return &session.Command{Kind: session.CommandStartMatch}, nil, nil
	case proto.InboundTypeSwapRequest:
		var data proto.SwapRequestData
		if err := json.Unmarshal(inbound.Data, &data); err != nil {
			return nil, nil, err
		}
		if data.ToUID == "" {
			return nil, &proto.Error{Code: core.ErrCodeBadRequest, Msg: "to_uid is required"}, nil
		}
		return &session.Command{
			Kind:  session.CommandSwapRequest,
			ToUID: data.ToUID,
		}, nil, nil
	case proto.InboundTypeSwapAccept:
		return &session.Command{Kind: session.CommandSwapAccept}, nil, nil
	case proto.InboundTypeSwapDecline:
		return &session.Command{Kind: session.CommandSwapDecline}, nil, nil
	case proto.InboundTypeHeartbeat:
		return &session.Command{Kind: session.CommandHeartbeat}, nil, nil
	case proto.InboundTypeResync:
		return &session.Command{Kind: session.CommandResync}, nil, nil
	default:
		return nil, &proto.Error{Code: "invalid_message", Msg: "unknown message type"}, nil
	}
}

func outboundFromEvent(event session.Event) proto.Outbound {
	switch event.Kind {
	case session.EventSnapshot:
		members := make([]proto.MemberData, 0, len(event.Members))
		for _, m := range event.Members {
			members = append(members, memberData(m))
		}
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.EventSnapshot,
			Data: proto.SnapshotData{
				Room:    roomData(event.Room),
				Members: members,
			},
		}
	case session.EventMemberJoined, session.EventMemberUpdated:
		name := proto.EventMemberJoined
		if event.Kind == session.EventMemberUpdated {
			name = proto.EventMemberUpdated
		}
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: name,
			Data:  memberData(*event.Member),
		}
	case session.EventMemberLeft:
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.EventMemberLeft,
			Data:  proto.MemberLeftData{UID: event.LeftUID},
		}
	case session.EventRoomUpdated:
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.EventRoomUpdated,
			Data:  roomData(event.Room),
		}
	case session.EventPresence:
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.EventPresence,
			Data:  proto.PresenceData{Online: event.Online},
		}
	case session.EventSwapIncoming:
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.EventSwapIncoming,
			Data: proto.SwapIncomingData{
				FromUID:  event.Swap.FromUID,
				FromChar: event.Swap.FromChar,
				ToChar:   event.Swap.ToChar,
			},
		}
	case session.EventSwapDeclined:
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.EventSwapDeclined,
			Data:  proto.SwapResultData{Reason: event.Reason},
		}
	case session.EventSwapCompleted:
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.EventSwapCompleted,
		}
	case session.EventSwapFailed:
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.EventSwapFailed,
			Data:  proto.SwapResultData{Reason: event.Reason},
		}
	case session.EventError:
		return proto.Outbound{
			Type:  proto.OutboundTypeError,
			Error: &proto.Error{Code: event.Code, Msg: event.Reason},
		}
	default:
		return proto.Outbound{Type: proto.OutboundTypeEvent}
	}
}

func roomData(r replica.Room) proto.RoomData {
	return proto.RoomData{
		ID:      r.ID,
		Code:    r.Code,
		Status:  r.Status,
		HostUID: r.HostUID,
		Seed:    r.Seed,
	}
}

func memberData(m replica.Member) proto.MemberData {
	return proto.MemberData{
		UID:         m.UID,
		SeatIndex:   m.SeatIndex,
		DisplayName: m.DisplayName,
		CharacterID: m.CharacterID,
		IsReady:     m.IsReady,
	}
}
