package log

import "log/slog"

func InstanceID[T ~string](id T) slog.Attr {
	return slog.String("instance_id", string(id))
}

func CorrelationID[T ~string](id T) slog.Attr {
	return slog.String("correlation_id", string(id))
}

func Status[T ~string](status T) slog.Attr {
	return slog.String("status", string(status))
}

func EventName(name string) slog.Attr {
	return slog.String("event_name", name)
}

func Topic(name string) slog.Attr {
	return slog.String("topic", name)
}

func Activity[T ~string](name T) slog.Attr {
	return slog.String("activity", string(name))
}

func Error(err error) slog.Attr {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return slog.String("error", msg)
}

func ErrorString(msg string) slog.Attr {
	return slog.String("error", msg)
}
