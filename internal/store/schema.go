package store

const schemaSQLite = `
CREATE TABLE IF NOT EXISTS transitions (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    robot_id    INTEGER NOT NULL,
    robot_name  TEXT NOT NULL DEFAULT '',
    from_state  TEXT NOT NULL,
    to_state    TEXT NOT NULL,
    reason      TEXT NOT NULL DEFAULT '',
    at_ns       INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_transitions_robot ON transitions(robot_id, id);

CREATE TABLE IF NOT EXISTS summaries (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    desired_hz   REAL NOT NULL,
    achieved_hz  REAL NOT NULL,
    mocap_hz     REAL NOT NULL,
    update_ns    INTEGER NOT NULL,
    wait_ns      INTEGER NOT NULL,
    ticks        INTEGER NOT NULL,
    overruns     INTEGER NOT NULL DEFAULT 0,
    panics       INTEGER NOT NULL DEFAULT 0,
    robots       INTEGER NOT NULL DEFAULT 0,
    at_ns        INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS shutdowns (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    outcome      TEXT NOT NULL,
    robots       INTEGER NOT NULL,
    landed       INTEGER NOT NULL,
    duration_ns  INTEGER NOT NULL,
    at_ns        INTEGER NOT NULL
);
`

const schemaPostgres = `
CREATE TABLE IF NOT EXISTS transitions (
    id          BIGSERIAL PRIMARY KEY,
    robot_id    BIGINT NOT NULL,
    robot_name  TEXT NOT NULL DEFAULT '',
    from_state  TEXT NOT NULL,
    to_state    TEXT NOT NULL,
    reason      TEXT NOT NULL DEFAULT '',
    at_ns       BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_transitions_robot ON transitions(robot_id, id);

CREATE TABLE IF NOT EXISTS summaries (
    id           BIGSERIAL PRIMARY KEY,
    desired_hz   DOUBLE PRECISION NOT NULL,
    achieved_hz  DOUBLE PRECISION NOT NULL,
    mocap_hz     DOUBLE PRECISION NOT NULL,
    update_ns    BIGINT NOT NULL,
    wait_ns      BIGINT NOT NULL,
    ticks        BIGINT NOT NULL,
    overruns     BIGINT NOT NULL DEFAULT 0,
    panics       BIGINT NOT NULL DEFAULT 0,
    robots       INTEGER NOT NULL DEFAULT 0,
    at_ns        BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS shutdowns (
    id           BIGSERIAL PRIMARY KEY,
    outcome      TEXT NOT NULL,
    robots       INTEGER NOT NULL,
    landed       INTEGER NOT NULL,
    duration_ns  BIGINT NOT NULL,
    at_ns        BIGINT NOT NULL
);
`
