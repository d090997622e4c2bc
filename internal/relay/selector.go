package relay

// ChooseWorker assigns client to the least-loaded worker. It is a no-op for
// connections that already have a worker or are not clients, and reports
// whether a new assignment was made.
func (r *Registry) ChooseWorker(client *Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !client.alive || client.role != RoleClient {
		return false
	}
	return r.chooseWorkerLocked(client)
}

func (r *Registry) chooseWorkerLocked(client *Conn) bool {
	if _, ok := r.assigned[client.id]; ok {
		return false
	}

	worker := r.leastLoadedLocked()
	if worker == nil {
		client.logger.Warn("failed to choose a worker, none available")
		return false
	}

	r.assignLocked(client, worker)
	worker.sendLocked(idEnvelope(EventConnection, client.id))
	r.metrics.WorkerAssigned()
	client.logger.Info("worker chosen", "worker_id", worker.id)
	return true
}

// leastLoadedLocked picks the worker with the smallest roster. Ties go to the
// earliest accepted worker; callers must not depend on that order.
func (r *Registry) leastLoadedLocked() *Conn {
	var best *Conn
	bestLoad := 0
	for _, c := range r.conns {
		if c.role != RoleWorker {
			continue
		}
		load := len(r.rosters[c.id])
		if best == nil || load < bestLoad || (load == bestLoad && c.seq < best.seq) {
			best, bestLoad = c, load
		}
	}
	return best
}

// adoptOrphansLocked gives every unassigned client a chance at a worker.
func (r *Registry) adoptOrphansLocked() {
	clients := r.sortedLocked(func(c *Conn) bool { return c.role == RoleClient })
	for _, c := range clients {
		r.chooseWorkerLocked(c)
	}
}

// failoverLocked detaches every client from a closing worker and reselects
// a worker for each of them.
func (r *Registry) failoverLocked(worker *Conn) {
	roster := r.rosters[worker.id]
	clients := make([]*Conn, 0, len(roster))
	for id := range roster {
		if c, ok := r.conns[id]; ok {
			clients = append(clients, c)
		}
		r.unassignLocked(id)
	}
	delete(r.rosters, worker.id)

	sortBySeq(clients)
	for _, c := range clients {
		r.chooseWorkerLocked(c)
	}
}
