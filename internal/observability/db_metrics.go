package observability

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var dbTracer = otel.Tracer("github.com/geocoder89/authcore/internal/repo")

// ObserveDB times fn under a span named after op. A missing row is a normal
// directory answer and is not counted as an error.
func (p *Prom) ObserveDB(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	ctx, span := dbTracer.Start(ctx, "db."+op)
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("db.operation", op))

	start := time.Now()
	err := fn(ctx)

	status := "ok"
	switch {
	case err == nil:
	case errors.Is(err, pgx.ErrNoRows):
		status = "not_found"
	default:
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, op)
		if p != nil {
			p.DbErrorsTotal.WithLabelValues(op, classifyDBErr(err)).Inc()
		}
	}
	if p != nil {
		p.DbQueryDuration.WithLabelValues(op, status).Observe(time.Since(start).Seconds())
	}
	return err
}

func classifyDBErr(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return "unique_violation"
		case "40001":
			return "serialization_failure"
		case "57014":
			return "query_canceled"
		default:
			return "pg_" + pgErr.Code
		}
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return "timeout"
	}
	if strings.Contains(strings.ToLower(err.Error()), "connection") {
		return "connection"
	}
	return "unknown"
}
