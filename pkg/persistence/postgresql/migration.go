package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE workflows (
				id VARCHAR(255) PRIMARY KEY,
				name VARCHAR(255) NOT NULL DEFAULT '',
				description TEXT NOT NULL DEFAULT '',
				nodes JSONB NOT NULL,
				edges JSONB NOT NULL,
				metadata JSONB,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE TABLE executions (
				id VARCHAR(255) PRIMARY KEY,
				workflow_id VARCHAR(255) NOT NULL,
				status VARCHAR(50) NOT NULL CHECK (status IN ('pending', 'running', 'paused', 'completed', 'failed', 'cancelled')),
				current_node_id VARCHAR(255),
				next_node_id VARCHAR(255),
				context JSONB,
				trigger_data JSONB,
				is_dry_run BOOLEAN NOT NULL DEFAULT false,
				started_at TIMESTAMP WITH TIME ZONE,
				completed_at TIMESTAMP WITH TIME ZONE,
				error TEXT,
				error_node_id VARCHAR(255),
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				resume_at TIMESTAMP WITH TIME ZONE,
				wait_event_type VARCHAR(255),
				correlation_key VARCHAR(255),
				resume JSONB,
				cancel_requested BOOLEAN NOT NULL DEFAULT false
			);

			CREATE INDEX idx_executions_workflow_status ON executions(workflow_id, status);
			CREATE INDEX idx_executions_status ON executions(status);
			CREATE INDEX idx_executions_wait_event_type ON executions(wait_event_type) WHERE status = 'paused';

			CREATE TABLE execution_steps (
				id VARCHAR(255) PRIMARY KEY,
				execution_id VARCHAR(255) NOT NULL REFERENCES executions(id) ON DELETE CASCADE,
				node_id VARCHAR(255) NOT NULL,
				node_type VARCHAR(50) NOT NULL,
				status VARCHAR(50) NOT NULL,
				input JSONB,
				output JSONB,
				condition_result BOOLEAN,
				selected_branch VARCHAR(255),
				error TEXT,
				error_kind VARCHAR(100),
				duration_ns BIGINT NOT NULL DEFAULT 0,
				executed_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_execution_steps_execution ON execution_steps(execution_id, executed_at);
		`,
	}
}
