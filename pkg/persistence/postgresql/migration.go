package postgresql

const inflightIndex = "idx_executions_inflight"

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE workflows (
				id VARCHAR(255) PRIMARY KEY,
				key VARCHAR(255) NOT NULL,
				name VARCHAR(255) NOT NULL,
				trigger_type VARCHAR(50) NOT NULL,
				entity_type VARCHAR(50) NOT NULL,
				status VARCHAR(50) NOT NULL CHECK (status IN ('active', 'paused', 'archived')),
				definition JSONB NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				CONSTRAINT workflows_key_unique UNIQUE (key)
			);

			CREATE INDEX idx_workflows_match ON workflows(status, trigger_type, entity_type);

			CREATE TABLE executions (
				id VARCHAR(255) PRIMARY KEY,
				workflow_id VARCHAR(255) NOT NULL,
				entity_type VARCHAR(50) NOT NULL,
				entity_id VARCHAR(255) NOT NULL,
				status VARCHAR(50) NOT NULL,
				next_scheduled_at TIMESTAMP WITH TIME ZONE NOT NULL,
				completed_at TIMESTAMP WITH TIME ZONE,
				version BIGINT NOT NULL,
				document JSONB NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			-- At most one in-flight execution per workflow and entity.
			CREATE UNIQUE INDEX idx_executions_inflight ON executions(workflow_id, entity_id)
				WHERE status IN ('pending', 'running', 'retrying');
			CREATE INDEX idx_executions_pair ON executions(workflow_id, entity_id, completed_at DESC);
			CREATE INDEX idx_executions_due ON executions(next_scheduled_at)
				WHERE status IN ('pending', 'retrying');
			CREATE INDEX idx_executions_running ON executions(updated_at)
				WHERE status = 'running';

			CREATE TABLE entities (
				entity_type VARCHAR(50) NOT NULL,
				id VARCHAR(255) NOT NULL,
				fields JSONB NOT NULL DEFAULT '{}',
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				PRIMARY KEY (entity_type, id)
			);
		`,
	}
}
